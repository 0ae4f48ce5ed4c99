package consolidation

import (
	"context"
	"log"
)

// Worker consumes consolidation checks queued by the embedding pipeline.
// The queue is bounded and non-blocking: under load, checks are dropped and
// picked up by a later on-demand sweep instead.
type Worker struct {
	engine *Engine
	jobs   chan string
}

// NewWorker creates a worker with the given queue capacity.
func NewWorker(engine *Engine, capacity int) *Worker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Worker{
		engine: engine,
		jobs:   make(chan string, capacity),
	}
}

// Enqueue schedules a consolidation check for a memory. Returns false when
// the queue is full and the check was dropped.
func (w *Worker) Enqueue(memoryID string) bool {
	select {
	case w.jobs <- memoryID:
		return true
	default:
		return false
	}
}

// Run processes queued checks until the context is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-w.jobs:
			if _, err := w.engine.FindAndMerge(ctx, []string{id}, 0); err != nil {
				log.Printf("mnemo: consolidation check for %s failed: %v", id, err)
			}
		}
	}
}
