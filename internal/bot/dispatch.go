// ABOUTME: Asynchronous event dispatch that keeps each session's events in order
// ABOUTME: Lets a transport's receive loop hand off events without waiting on downloads

package bot

import (
	"context"
	"log/slog"
	"sync"
)

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// Dispatcher is a Handler that returns immediately. Events for one session
// are handled one at a time in arrival order; different sessions run in
// parallel.
type Dispatcher struct {
	next   Handler
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string][]queuedEvent // present while a drain goroutine runs
	wg     sync.WaitGroup
}

// NewDispatcher wraps next.
func NewDispatcher(next Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		next:   next,
		logger: logger.With("component", "dispatcher"),
		queues: make(map[string][]queuedEvent),
	}
}

// HandleEvent queues ev behind earlier events of the same session.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) {
	sid := ev.SessionID()

	d.mu.Lock()
	queue, running := d.queues[sid]
	d.queues[sid] = append(queue, queuedEvent{ctx: ctx, ev: ev})
	if !running {
		d.wg.Add(1)
	}
	d.mu.Unlock()

	if running {
		d.logger.Debug("queued behind session work", "session", sid, "event_id", ev.ID)
		return
	}
	go d.drain(sid)
}

func (d *Dispatcher) drain(sid string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[sid]
		if len(queue) == 0 {
			delete(d.queues, sid)
			d.mu.Unlock()
			return
		}
		next := queue[0]
		d.queues[sid] = queue[1:]
		d.mu.Unlock()

		d.next.HandleEvent(next.ctx, next.ev)
	}
}

// Wait blocks until every queued event has been handled or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
