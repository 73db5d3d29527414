package notify

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

var ErrQueueFull = errors.New("notify queue full")

// Async decouples a slow notifier (network sinks) from the publisher with
// a bounded buffer drained by one goroutine. Events beyond the buffer are
// dropped and counted.
type Async struct {
	next    Notifier
	ch      chan Event
	done    chan struct{}
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Notifier, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{next: next, ch: make(chan Event, buffer), done: make(chan struct{})}
	go a.drain()
	return a
}

func (a *Async) drain() {
	defer close(a.done)
	for ev := range a.ch {
		a.next.Notify(ev)
	}
}

func (a *Async) Notify(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- ev:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("[notify] %v: %d event(s) dropped", ErrQueueFull, n)
		}
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting events and waits for the buffer to drain.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()
	<-a.done
}
