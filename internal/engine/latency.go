package engine

import (
	"sort"
	"sync"
	"time"
)

const defaultLatencySamples = 10000

// stageSample holds the per-stage durations of one applied update, in
// nanoseconds.
type stageSample struct {
	receiveToEnqueue int64
	enqueueToPop     int64
	popToApply       int64
	total            int64
}

// LatencyTracker keeps a fixed-capacity ring of per-update measurements,
// overwriting the oldest once full. Recording is cheap (one short critical
// section); Summary copies the window out before sorting.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []stageSample
	max     int
	count   uint64 // total ever recorded
}

// NewLatencyTracker creates a tracker holding up to max samples.
func NewLatencyTracker(max int) *LatencyTracker {
	if max <= 0 {
		max = defaultLatencySamples
	}
	return &LatencyTracker{
		samples: make([]stageSample, 0, max),
		max:     max,
	}
}

// Record stores one measurement from its four stage timestamps
// (unix nanoseconds, as recorded by the producer and the worker).
func (t *LatencyTracker) Record(recv, enqueue, pop, done int64) {
	s := stageSample{
		receiveToEnqueue: enqueue - recv,
		enqueueToPop:     pop - enqueue,
		popToApply:       done - pop,
		total:            done - recv,
	}

	t.mu.Lock()
	if len(t.samples) < t.max {
		t.samples = append(t.samples, s)
	} else {
		t.samples[t.count%uint64(t.max)] = s
	}
	t.count++
	t.mu.Unlock()
}

// Count reports the total number of measurements ever recorded.
func (t *LatencyTracker) Count() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// StageStats summarizes one pipeline stage over the sample window.
type StageStats struct {
	Min time.Duration `json:"min"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
	N   int           `json:"n"`
}

// LatencySummary covers the four measured stages of the pipeline.
type LatencySummary struct {
	ReceiveToEnqueue StageStats `json:"receive_to_enqueue"`
	EnqueueToPop     StageStats `json:"enqueue_to_pop"`
	PopToApply       StageStats `json:"pop_to_apply"`
	Total            StageStats `json:"total"`
}

// Summary computes per-stage statistics over a copy of the current window.
func (t *LatencyTracker) Summary() LatencySummary {
	t.mu.Lock()
	window := make([]stageSample, len(t.samples))
	copy(window, t.samples)
	t.mu.Unlock()

	return LatencySummary{
		ReceiveToEnqueue: stageStats(window, func(s stageSample) int64 { return s.receiveToEnqueue }),
		EnqueueToPop:     stageStats(window, func(s stageSample) int64 { return s.enqueueToPop }),
		PopToApply:       stageStats(window, func(s stageSample) int64 { return s.popToApply }),
		Total:            stageStats(window, func(s stageSample) int64 { return s.total }),
	}
}

// Reset drops all samples.
func (t *LatencyTracker) Reset() {
	t.mu.Lock()
	t.samples = t.samples[:0]
	t.count = 0
	t.mu.Unlock()
}

func stageStats(window []stageSample, pick func(stageSample) int64) StageStats {
	n := len(window)
	if n == 0 {
		return StageStats{}
	}

	vals := make([]int64, n)
	var sum int64
	for i, s := range window {
		v := pick(s)
		vals[i] = v
		sum += v
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })

	return StageStats{
		Min: time.Duration(vals[0]),
		Avg: time.Duration(sum / int64(n)),
		P50: time.Duration(vals[percentileIndex(n, 0.50)]),
		P95: time.Duration(vals[percentileIndex(n, 0.95)]),
		P99: time.Duration(vals[percentileIndex(n, 0.99)]),
		Max: time.Duration(vals[n-1]),
		N:   n,
	}
}

// percentileIndex is floor(n*q), clamped to the last element.
func percentileIndex(n int, q float64) int {
	idx := int(float64(n) * q)
	if idx >= n {
		idx = n - 1
	}
	return idx
}
