package engine

import (
	"testing"
	"time"
)

func TestLatencyStagesComputed(t *testing.T) {
	tr := NewLatencyTracker(100)

	// recv=0, enqueue=10, pop=30, done=60:
	// stages are 10, 20, 30, total 60.
	tr.Record(0, 10, 30, 60)

	s := tr.Summary()
	if s.ReceiveToEnqueue.Min != 10*time.Nanosecond {
		t.Errorf("receive->enqueue = %v, want 10ns", s.ReceiveToEnqueue.Min)
	}
	if s.EnqueueToPop.Min != 20*time.Nanosecond {
		t.Errorf("enqueue->pop = %v, want 20ns", s.EnqueueToPop.Min)
	}
	if s.PopToApply.Min != 30*time.Nanosecond {
		t.Errorf("pop->apply = %v, want 30ns", s.PopToApply.Min)
	}
	if s.Total.Min != 60*time.Nanosecond {
		t.Errorf("total = %v, want 60ns", s.Total.Min)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	tr := NewLatencyTracker(1000)

	// Totals 1..100ns via done = recv + i.
	for i := 1; i <= 100; i++ {
		tr.Record(0, 0, 0, int64(i))
	}

	s := tr.Summary().Total
	if s.N != 100 {
		t.Fatalf("expected 100 samples, got %d", s.N)
	}
	if s.Min != 1*time.Nanosecond {
		t.Errorf("min = %v, want 1ns", s.Min)
	}
	if s.Max != 100*time.Nanosecond {
		t.Errorf("max = %v, want 100ns", s.Max)
	}
	// floor(n*q) indexing into the sorted slice: p50 -> index 50 -> value 51.
	if s.P50 != 51*time.Nanosecond {
		t.Errorf("p50 = %v, want 51ns", s.P50)
	}
	if s.P95 != 96*time.Nanosecond {
		t.Errorf("p95 = %v, want 96ns", s.P95)
	}
	if s.P99 != 100*time.Nanosecond {
		t.Errorf("p99 = %v, want 100ns", s.P99)
	}
	if s.Avg != time.Duration(5050/100) {
		t.Errorf("avg = %v, want 50ns", s.Avg)
	}
}

func TestLatencyWindowOverwritesOldest(t *testing.T) {
	tr := NewLatencyTracker(10)

	for i := 1; i <= 25; i++ {
		tr.Record(0, 0, 0, int64(i*100))
	}

	if tr.Count() != 25 {
		t.Errorf("expected count 25, got %d", tr.Count())
	}

	s := tr.Summary().Total
	if s.N != 10 {
		t.Fatalf("expected window of 10, got %d", s.N)
	}
	// Only the last 10 samples (1600..2500) survive.
	if s.Min != 1600*time.Nanosecond {
		t.Errorf("min = %v, want 1600ns", s.Min)
	}
	if s.Max != 2500*time.Nanosecond {
		t.Errorf("max = %v, want 2500ns", s.Max)
	}
}

func TestLatencyEmptySummary(t *testing.T) {
	tr := NewLatencyTracker(10)
	s := tr.Summary()
	if s.Total.N != 0 || s.Total.Max != 0 {
		t.Error("expected zeroed stats for empty tracker")
	}
}

func TestLatencyReset(t *testing.T) {
	tr := NewLatencyTracker(10)
	tr.Record(0, 1, 2, 3)
	tr.Reset()

	if tr.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", tr.Count())
	}
	if tr.Summary().Total.N != 0 {
		t.Error("expected empty window after reset")
	}
}

func TestLatencySingleSamplePercentiles(t *testing.T) {
	tr := NewLatencyTracker(10)
	tr.Record(0, 0, 0, 42)

	s := tr.Summary().Total
	// All percentiles clamp to the only sample.
	if s.P50 != 42 || s.P95 != 42 || s.P99 != 42 {
		t.Errorf("percentiles = %v/%v/%v, want all 42ns", s.P50, s.P95, s.P99)
	}
}

func BenchmarkLatencyRecord(b *testing.B) {
	tr := NewLatencyTracker(10000)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tr.Record(0, 10, 30, 60)
	}
}
