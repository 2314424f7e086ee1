package queue

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// Persister saves the queue order.
type Persister interface {
	Save(ctx context.Context, ids []string) error
}

// writer saves the latest queue order on a single goroutine.
// Intermediate orders are coalesced: only the newest pending order is written.
type writer struct {
	persister Persister

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	dirty   bool
	busy    bool
	closed  bool

	wake chan struct{}
	stop chan struct{}
	once sync.Once
}

func newWriter(p Persister) *writer {
	w := &writer{
		persister: p,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// enqueue schedules ids to be written without blocking the caller.
func (w *writer) enqueue(ids []string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = ids
	w.dirty = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) run() {
	for {
		select {
		case <-w.stop:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if !w.dirty {
				w.busy = false
				w.cond.Broadcast()
				w.mu.Unlock()
				break
			}
			ids := w.pending
			w.dirty = false
			w.busy = true
			w.mu.Unlock()

			if err := w.persister.Save(context.Background(), ids); err != nil {
				zlog.Warn().Err(err).Msgf("queue: failed to persist order (%d ids)", len(ids))
			}
		}
	}
}

// flush blocks until every enqueued order has been handed to the persister.
func (w *writer) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.dirty || w.busy {
		w.cond.Wait()
	}
}

func (w *writer) close() {
	w.mu.Lock()
	for w.dirty || w.busy {
		w.cond.Wait()
	}
	w.closed = true
	w.mu.Unlock()
	w.once.Do(func() { close(w.stop) })
}
