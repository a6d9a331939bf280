// Package engine maintains the per-instrument order-book replicas. A single
// producer (the feed session) enqueues parsed book updates onto a bounded
// lock-free ring; a fixed worker pool applies them under per-symbol locks and
// fans the result out to registered local subscribers. Overload is handled by
// dropping, never by blocking the producer.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/event"
	"deribit_go/internal/ringbuf"
)

const (
	defaultWorkers       = 4
	defaultQueueCapacity = 65536

	// idleSleep bounds the latency floor when the queue runs dry. Keep it
	// well under 100µs or queueing delay shows up in the tail percentiles.
	idleSleep = 50 * time.Microsecond
)

// Callback observes applied updates. The book is a consistent copy taken
// under the symbol lock; the callback itself runs without engine locks and
// must not re-enter the engine synchronously.
type Callback = func(symbol string, book domain.Orderbook)

// Options tunes the engine. Zero values select defaults.
type Options struct {
	Workers        int
	QueueCapacity  int
	LatencySamples int
	Logger         *slog.Logger
}

// MarketData is the ingestion facade: it owns the queue, the worker pool,
// the book registry and the fan-out list.
type MarketData struct {
	queue   *ringbuf.Ring[*event.BookTask]
	workers int

	booksMu sync.Mutex
	books   map[string]*bookEntry

	cbMu      sync.Mutex
	callbacks []Callback

	dropped atomic.Uint64
	popped  atomic.Uint64
	latency *LatencyTracker

	running atomic.Bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewMarketData creates a stopped engine; call Start to spin up the workers.
func NewMarketData(opts Options) *MarketData {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &MarketData{
		queue:   ringbuf.New[*event.BookTask](opts.QueueCapacity),
		workers: opts.Workers,
		books:   make(map[string]*bookEntry),
		latency: NewLatencyTracker(opts.LatencySamples),
		logger:  opts.Logger.With(slog.String("module", "engine")),
	}
}

// Start launches the worker pool. Idempotent.
func (m *MarketData) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.workerLoop()
	}
	m.logger.Info("engine started",
		slog.Int("workers", m.workers),
		slog.Int("queue_capacity", m.queue.Cap()))
}

// Stop signals the workers and joins them. Items still queued are discarded.
func (m *MarketData) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.wg.Wait()
	m.logger.Info("engine stopped",
		slog.Uint64("dropped", m.dropped.Load()),
		slog.Int("discarded", m.queue.Len()))
}

// Enqueue hands one parsed book update to the worker pool. recvNanos is the
// wall-clock nanosecond timestamp at which the frame was read off the wire;
// zero or negative means "now". Attempts a non-blocking push, and on a full
// queue drops the update and bumps the drop counter. Never blocks; must be
// called from a single producer goroutine.
func (m *MarketData) Enqueue(symbol string, upd *event.BookUpdate, recvNanos int64) {
	if recvNanos <= 0 {
		recvNanos = time.Now().UnixNano()
	}

	task := event.AcquireBookTask()
	task.Symbol = symbol
	task.Update = upd
	task.RecvNanos = recvNanos
	// Stamped immediately before the push: Push publishes the task to the
	// workers, so writing the field afterwards would race with a consumer.
	task.EnqueueNanos = time.Now().UnixNano()

	if !m.queue.Push(task) {
		m.dropped.Add(1)
		event.ReleaseBookTask(task)
	}
}

// DroppedCount reports updates discarded because the queue was full.
func (m *MarketData) DroppedCount() uint64 {
	return m.dropped.Load()
}

// PoppedCount reports updates taken off the queue by workers.
func (m *MarketData) PoppedCount() uint64 {
	return m.popped.Load()
}

// QueueLen reports the number of updates currently queued.
func (m *MarketData) QueueLen() int {
	return m.queue.Len()
}

// LatencySummary returns per-stage latency percentiles over the current
// sample window.
func (m *MarketData) LatencySummary() LatencySummary {
	return m.latency.Summary()
}

func (m *MarketData) workerLoop() {
	defer m.wg.Done()
	for m.running.Load() {
		task, ok := m.queue.Pop()
		if !ok {
			time.Sleep(idleSleep)
			continue
		}
		m.popped.Add(1)
		popNanos := time.Now().UnixNano()

		m.apply(task)

		doneNanos := time.Now().UnixNano()
		m.latency.Record(task.RecvNanos, task.EnqueueNanos, popNanos, doneNanos)
		event.ReleaseBookTask(task)
	}
}
