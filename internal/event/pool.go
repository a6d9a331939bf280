package event

import (
	"sync"
)

// BookTask is one queued (symbol, payload) entry on its way from the feed
// session to a processing worker. Timestamps are producer-recorded and feed
// the latency tracker. Tasks are pooled; a task is owned by the producer
// until a successful push, then by exactly one consumer until release.
type BookTask struct {
	Symbol       string
	Update       *BookUpdate
	RecvNanos    int64 // frame receive time
	EnqueueNanos int64 // completed push time
}

// bookTaskPool reduces GC pressure on the ingestion hot path.
//
// Usage:
//
//	task := AcquireBookTask()
//	task.Symbol = "BTC-PERPETUAL"
//	// ... enqueue, process ...
//	ReleaseBookTask(task) // return to pool after the worker is done
var bookTaskPool = sync.Pool{
	New: func() interface{} {
		return &BookTask{}
	},
}

// AcquireBookTask gets a BookTask from the pool.
// The returned task has zero values and must be initialized.
func AcquireBookTask() *BookTask {
	return bookTaskPool.Get().(*BookTask)
}

// ReleaseBookTask returns a BookTask to the pool.
// The task is reset to zero values before being pooled.
func ReleaseBookTask(t *BookTask) {
	if t == nil {
		return
	}
	t.Symbol = ""
	t.Update = nil
	t.RecvNanos = 0
	t.EnqueueNanos = 0

	bookTaskPool.Put(t)
}

// Warmup pre-allocates task objects to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	tasks := make([]*BookTask, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		tasks = append(tasks, AcquireBookTask())
	}
	for _, t := range tasks {
		ReleaseBookTask(t)
	}
}
