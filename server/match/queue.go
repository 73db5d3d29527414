package match

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Queue is an unbounded FIFO of match ids with a single consumer.
type Queue struct {
	mu     sync.Mutex
	items  []uuid.UUID
	signal chan struct{}
}

func NewQueue() *Queue { return &Queue{signal: make(chan struct{}, 1)} }

// Enqueue never blocks.
func (q *Queue) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue waits for the next id or for ctx to end.
func (q *Queue) Dequeue(ctx context.Context) (uuid.UUID, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Executor runs one match to completion, pause, cancellation or failure.
type Executor interface {
	Run(ctx context.Context, id uuid.UUID) error
}

// Worker drains the queue one match at a time.
type Worker struct {
	Queue *Queue
	Exec  Executor
	Logf  func(format string, args ...any)

	mu      sync.Mutex
	current uuid.UUID
	cancel  context.CancelCauseFunc
}

func (w *Worker) logf(format string, args ...any) {
	if w.Logf != nil {
		w.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run blocks until ctx ends. A failing match is logged and the loop moves on.
func (w *Worker) Run(ctx context.Context) error {
	w.logf("[worker] started")
	for {
		id, err := w.Queue.Dequeue(ctx)
		if err != nil {
			w.logf("[worker] stopped")
			return nil
		}
		w.runOne(ctx, id)
	}
}

func (w *Worker) runOne(ctx context.Context, id uuid.UUID) {
	mctx, cancel := context.WithCancelCause(ctx)
	w.mu.Lock()
	w.current, w.cancel = id, cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.current, w.cancel = uuid.Nil, nil
		w.mu.Unlock()
		cancel(nil)
	}()

	w.logf("[worker] match %s started (%d queued)", id, w.Queue.Len())
	if err := w.Exec.Run(mctx, id); err != nil {
		w.logf("[worker] match %s: %v", id, err)
		return
	}
	w.logf("[worker] match %s finished", id)
}

// Cancel aborts the match if it is the one currently running.
func (w *Worker) Cancel(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != id || w.cancel == nil {
		return false
	}
	w.cancel(ErrMatchCancelled)
	return true
}

// Running returns the id of the match being executed, or uuid.Nil.
func (w *Worker) Running() uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
