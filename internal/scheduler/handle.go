// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"sync"
	"time"
)

// Handle tri-state. A handle only ever moves forward:
// not started -> running -> done, or not started -> done (cancel before start).
const (
	handleNotStarted = iota
	handleRunning
	handleDone
)

// Handle is the waitable result slot of one scheduled operation.
type Handle struct {
	s           *Scheduler
	op          Operation
	scheduledAt time.Time

	mu      sync.Mutex
	state   int
	claimed bool
	value   any
	err     error
	done    chan struct{}
}

func newHandle(s *Scheduler, op Operation) *Handle {
	return &Handle{
		s:           s,
		op:          op,
		scheduledAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Done is closed once the handle holds its terminal result.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Await blocks until the operation resolves or ctx expires.
//
// If the operation was deferred at schedule time, the first waiter acquires
// a concurrency permit (bounded by ctx) and starts it. On ctx expiry the
// waiter attempts cooperative cancellation; a result that raced in before
// the cancellation took effect wins over the timeout.
//
// A handle's result may be claimed exactly once; a second Await fails with
// ErrAlreadyAwaited.
func (h *Handle) Await(ctx context.Context) (any, error) {
	h.mu.Lock()
	if h.claimed {
		h.mu.Unlock()
		return nil, ErrAlreadyAwaited
	}
	h.claimed = true
	deferred := h.state == handleNotStarted
	h.mu.Unlock()

	if deferred {
		if err := h.s.startDeferred(ctx, h); err != nil {
			h.fulfill(nil, err)
		}
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		h.cancelWith(waitError(ctx.Err()))
	}
	<-h.done
	return h.result()
}

// CancelOp marks the handle cancelled, best-effort cancels the underlying
// operation, and resolves the slot with ErrCancelled if no result arrived
// first. Idempotent.
func (h *Handle) CancelOp() {
	h.cancelWith(ErrCancelled)
}

func (h *Handle) cancelWith(err error) {
	h.mu.Lock()
	running := h.state == handleRunning
	h.mu.Unlock()
	if running {
		h.op.Cancel()
	}
	h.fulfill(nil, err)
}

// markRunning transitions not started -> running. Returns false if the
// handle already resolved (cancelled before start).
func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != handleNotStarted {
		return false
	}
	h.state = handleRunning
	return true
}

// fulfill stores the terminal result exactly once. The first caller wins;
// later results for the same slot are dropped.
func (h *Handle) fulfill(value any, err error) bool {
	h.mu.Lock()
	if h.state == handleDone {
		h.mu.Unlock()
		return false
	}
	held := h.state == handleRunning
	h.state = handleDone
	h.value = value
	h.err = err
	close(h.done)
	h.mu.Unlock()

	h.s.resolved(h, held)
	return true
}

func (h *Handle) result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.err
}

func (h *Handle) isDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == handleDone
}
