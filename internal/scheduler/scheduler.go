// SPDX-License-Identifier: MIT

// Package scheduler turns callback-style transport primitives into waitable,
// cancellable, timeout-bound operations under a fixed concurrency budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/metrics"
	"github.com/camlink/camlink/internal/transport"
)

// Scheduler executes operations under a counting semaphore, collapsing
// same-identity operations onto one in-flight execution at a time.
type Scheduler struct {
	logger         zerolog.Logger
	sem            *semaphore.Weighted
	defaultTimeout time.Duration

	mu       sync.Mutex
	inflight map[Identity]*Handle
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithDefaultTimeout bounds Execute calls whose context carries no deadline
// of its own. Zero means unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.defaultTimeout = d }
}

// New creates a scheduler allowing at most maxConcurrent operations to hold
// a permit at once.
func New(maxConcurrent int64, opts ...Option) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		logger:   log.WithComponent("scheduler"),
		sem:      semaphore.NewWeighted(maxConcurrent),
		inflight: make(map[Identity]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers op and starts it on the calling goroutine if its
// identity is free and a permit is available without waiting. Otherwise the
// returned handle is deferred: the first Await acquires the permit and
// starts the operation.
func (s *Scheduler) Schedule(op Operation) *Handle {
	return s.schedule(context.Background(), op)
}

func (s *Scheduler) schedule(ctx context.Context, op Operation) *Handle {
	h := newHandle(s, op)
	id := op.Identity()

	s.mu.Lock()
	if _, exists := s.inflight[id]; exists {
		s.mu.Unlock()
		s.logger.Debug().Str(log.FieldOperation, id.String()).Msg("identity in flight, deferred")
		return h
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		s.logger.Debug().Str(log.FieldOperation, id.String()).Msg("at capacity, deferred")
		return h
	}
	h.markRunning()
	s.inflight[id] = h
	n := len(s.inflight)
	s.mu.Unlock()

	metrics.SetInflight(n)
	s.run(ctx, h)
	return h
}

// ScheduleNow schedules op but refuses to wait: if the operation could not
// start immediately the handle resolves with ErrBusy.
func (s *Scheduler) ScheduleNow(op Operation) (*Handle, error) {
	h := s.Schedule(op)
	h.mu.Lock()
	started := h.state != handleNotStarted
	h.mu.Unlock()
	if !started {
		h.fulfill(nil, fmt.Errorf("%w: %s", ErrBusy, op.Identity()))
		return h, ErrBusy
	}
	return h, nil
}

// Execute schedules op and waits for its result under ctx. When ctx has no
// deadline the scheduler's default timeout applies, so a lost completion
// callback can never strand the waiter forever.
func (s *Scheduler) Execute(ctx context.Context, op Operation) (any, error) {
	if s.defaultTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.defaultTimeout)
			defer cancel()
		}
	}
	return s.schedule(ctx, op).Await(ctx)
}

// ExecuteNonNil is Execute for operations whose success result must carry a
// value; a nil success value fails with ErrNilResult.
func (s *Scheduler) ExecuteNonNil(ctx context.Context, op Operation) (any, error) {
	v, err := s.Execute(ctx, op)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilResult, op.Identity())
	}
	return v, nil
}

// WaitAll awaits every handle in order, ignoring values. The ctx deadline is
// naturally apportioned across the remaining handles. All errors are joined.
func WaitAll(ctx context.Context, handles ...*Handle) error {
	var errs []error
	for _, h := range handles {
		if _, err := h.Await(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifySuccess resolves the in-flight operation with the given identity.
// A nil value is a legal success result. Results for unknown identities are
// logged and dropped.
func (s *Scheduler) NotifySuccess(id Identity, value any) {
	s.deliver(id, value, nil)
}

// NotifyFailure resolves the in-flight operation with a failure.
func (s *Scheduler) NotifyFailure(id Identity, err error) {
	s.deliver(id, nil, err)
}

// NotifyCompletion resolves the in-flight operation from a native transport
// status code.
func (s *Scheduler) NotifyCompletion(id Identity, status transport.Status) {
	s.deliver(id, nil, status.Err())
}

func (s *Scheduler) deliver(id Identity, value any, err error) {
	s.mu.Lock()
	h := s.inflight[id]
	s.mu.Unlock()
	if h == nil {
		s.logger.Warn().Str(log.FieldOperation, id.String()).Msg("result for unknown operation dropped")
		return
	}
	if !h.fulfill(value, err) {
		s.logger.Debug().Str(log.FieldOperation, id.String()).Msg("result for resolved operation dropped")
	}
}

// startDeferred is called by the first waiter of a deferred handle. It waits
// for the operation's identity to clear and a permit to become available,
// then starts the operation on the waiter's goroutine.
func (s *Scheduler) startDeferred(ctx context.Context, h *Handle) error {
	id := h.op.Identity()
	for {
		if h.isDone() {
			return nil
		}

		s.mu.Lock()
		cur, inFlight := s.inflight[id]
		if inFlight {
			s.mu.Unlock()
			select {
			case <-cur.Done():
			case <-h.done:
				return nil
			case <-ctx.Done():
				return waitError(ctx.Err())
			}
			continue
		}
		s.mu.Unlock()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return waitError(err)
		}

		s.mu.Lock()
		if _, taken := s.inflight[id]; taken {
			// Identity raced back in flight; give the permit back and wait.
			s.sem.Release(1)
			s.mu.Unlock()
			continue
		}
		if !h.markRunning() {
			// Cancelled while we were acquiring.
			s.sem.Release(1)
			s.mu.Unlock()
			return nil
		}
		s.inflight[id] = h
		n := len(s.inflight)
		s.mu.Unlock()

		metrics.SetInflight(n)
		s.run(ctx, h)
		return nil
	}
}

// run invokes the operation exactly once. A synchronous error or panic from
// Run resolves the slot immediately; otherwise the terminal result arrives
// through Notify*.
func (s *Scheduler) run(ctx context.Context, h *Handle) {
	lg := log.WithContext(ctx, s.logger)
	defer func() {
		if r := recover(); r != nil {
			lg.Error().Str(log.FieldOperation, h.op.Identity().String()).
				Interface("panic", r).Msg("operation panicked")
			h.fulfill(nil, fmt.Errorf("scheduler: operation %s panicked: %v", h.op.Identity(), r))
		}
	}()
	if err := h.op.Run(ctx); err != nil {
		lg.Debug().Err(err).Str(log.FieldOperation, h.op.Identity().String()).
			Msg("operation failed synchronously")
		h.fulfill(nil, err)
	}
}

// resolved releases the permit and identity of a started handle and records
// metrics. Called exactly once per handle, from fulfill.
func (s *Scheduler) resolved(h *Handle, held bool) {
	id := h.op.Identity()
	if held {
		s.mu.Lock()
		if s.inflight[id] == h {
			delete(s.inflight, id)
		}
		n := len(s.inflight)
		s.mu.Unlock()
		s.sem.Release(1)
		metrics.SetInflight(n)
	}
	_, err := h.result()
	metrics.RecordOperation(id.Kind(), outcome(err))
	metrics.ObserveWait(id.Kind(), time.Since(h.scheduledAt))
}

// Len reports how many operations currently hold a permit.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
