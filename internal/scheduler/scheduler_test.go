// SPDX-License-Identifier: MIT

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camlink/camlink/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeOp struct {
	id        Identity
	run       func(ctx context.Context) error
	cancelFn  func() bool
	runs      atomic.Int32
	cancelled atomic.Int32
}

func (o *fakeOp) Identity() Identity { return o.id }

func (o *fakeOp) Run(ctx context.Context) error {
	o.runs.Add(1)
	if o.run != nil {
		return o.run(ctx)
	}
	return nil
}

func (o *fakeOp) Cancel() bool {
	o.cancelled.Add(1)
	if o.cancelFn != nil {
		return o.cancelFn()
	}
	return false
}

func TestScheduler_ExecuteSuccess(t *testing.T) {
	s := New(2)
	op := &fakeOp{id: MakeIdentity("connect", "peer-1")}

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.NotifySuccess(op.id, "ok")
	}()

	v, err := s.Execute(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, int32(1), op.runs.Load())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_SynchronousRunFailure(t *testing.T) {
	s := New(1)
	boom := errors.New("boom")
	op := &fakeOp{
		id:  MakeIdentity("connect", "peer-1"),
		run: func(context.Context) error { return boom },
	}

	_, err := s.Execute(context.Background(), op)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_SameIdentityNeverConcurrent(t *testing.T) {
	s := New(4)
	id := MakeIdentity("send", "peer-1")
	op1 := &fakeOp{id: id}
	op2 := &fakeOp{id: id}

	h1 := s.Schedule(op1)
	h2 := s.Schedule(op2)

	// Second schedule with the in-flight identity must not run.
	assert.Equal(t, int32(1), op1.runs.Load())
	assert.Equal(t, int32(0), op2.runs.Load())

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.NotifySuccess(id, 1)
	}()
	v1, err := h1.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	waited := make(chan struct{})
	go func() {
		defer close(waited)
		v2, err := h2.Await(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 2, v2)
	}()

	require.Eventually(t, func() bool { return op2.runs.Load() == 1 }, time.Second, time.Millisecond)
	s.NotifySuccess(id, 2)
	<-waited

	assert.Equal(t, int32(1), op1.runs.Load())
	assert.Equal(t, int32(1), op2.runs.Load())
}

func TestScheduler_LazyStartByFirstWaiter(t *testing.T) {
	s := New(1)
	op1 := &fakeOp{id: MakeIdentity("connect", "peer-1")}
	started2 := make(chan struct{})
	var op2 *fakeOp
	op2 = &fakeOp{
		id: MakeIdentity("connect", "peer-2"),
		run: func(context.Context) error {
			close(started2)
			s.NotifySuccess(op2.id, "late")
			return nil
		},
	}

	s.Schedule(op1)
	h2 := s.Schedule(op2)
	assert.Equal(t, int32(0), op2.runs.Load(), "deferred op must not run at schedule time")

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.NotifySuccess(op1.id, nil)
	}()

	// The waiter itself acquires the permit and starts the operation.
	v, err := h2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", v)
	<-started2
}

func TestScheduler_TimeoutCancelsOperation(t *testing.T) {
	s := New(1)
	op := &fakeOp{
		id:       MakeIdentity("connect", "peer-1"),
		cancelFn: func() bool { return true },
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := s.Execute(ctx, op)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), op.cancelled.Load())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_DefaultTimeoutBoundsExecute(t *testing.T) {
	s := New(1, WithDefaultTimeout(30*time.Millisecond))
	op := &fakeOp{
		id:       MakeIdentity("connect", "peer-1"),
		cancelFn: func() bool { return true },
	}

	// No deadline on the caller's context: the scheduler supplies one.
	_, err := s.Execute(context.Background(), op)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(1), op.cancelled.Load())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_ExplicitDeadlineOverridesDefault(t *testing.T) {
	s := New(1, WithDefaultTimeout(10*time.Millisecond))
	op := &fakeOp{id: MakeIdentity("connect", "peer-1")}

	go func() {
		time.Sleep(30 * time.Millisecond)
		s.NotifySuccess(op.id, "slow but fine")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := s.Execute(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, "slow but fine", v)
}

func TestScheduler_LateResultBeatsTimeout(t *testing.T) {
	// A result that arrives before the waiter observes its expired deadline
	// must win; the waiter never sees a spurious timeout. Repeated to cover
	// the select race between the two ready channels.
	for i := 0; i < 100; i++ {
		s := New(1)
		op := &fakeOp{id: MakeIdentity("connect", "peer-1")}
		h := s.Schedule(op)
		s.NotifySuccess(op.id, "won")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		v, err := h.Await(ctx)
		require.NoError(t, err)
		assert.Equal(t, "won", v)
	}
}

func TestScheduler_ScheduleNowBusy(t *testing.T) {
	s := New(1)
	holder := &fakeOp{id: MakeIdentity("connect", "peer-1")}
	s.Schedule(holder)

	op := &fakeOp{id: MakeIdentity("connect", "peer-2")}
	h, err := s.ScheduleNow(op)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, int32(0), op.runs.Load())

	s.NotifySuccess(holder.id, nil)
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	s := New(1)
	op := &fakeOp{id: MakeIdentity("connect", "peer-1")}
	h := s.Schedule(op)

	h.CancelOp()
	h.CancelOp()

	_, err := h.Await(context.Background())
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(1), op.cancelled.Load(), "underlying cancel asked once, second call was a no-op")
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_DoubleAwaitFails(t *testing.T) {
	s := New(1)
	op := &fakeOp{id: MakeIdentity("connect", "peer-1")}
	h := s.Schedule(op)
	s.NotifySuccess(op.id, nil)

	_, err := h.Await(context.Background())
	require.NoError(t, err)
	_, err = h.Await(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyAwaited)
}

func TestScheduler_UnknownResultDropped(t *testing.T) {
	s := New(1)
	assert.NotPanics(t, func() {
		s.NotifySuccess(MakeIdentity("connect", "nobody"), 42)
		s.NotifyFailure(MakeIdentity("connect", "nobody"), errors.New("x"))
	})
}

func TestScheduler_RunPanicBecomesFailure(t *testing.T) {
	s := New(1)
	op := &fakeOp{
		id:  MakeIdentity("connect", "peer-1"),
		run: func(context.Context) error { panic("kaboom") },
	}
	_, err := s.Execute(context.Background(), op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_RunLogsCarryPeerID(t *testing.T) {
	var buf bytes.Buffer
	s := New(1, WithLogger(zerolog.New(&buf)))
	op := &fakeOp{
		id:  MakeIdentity("connect", "peer-1"),
		run: func(context.Context) error { panic("kaboom") },
	}

	ctx := log.ContextWithPeerID(context.Background(), "peer-1")
	_, err := s.Execute(ctx, op)
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"peer_id":"peer-1"`)
	assert.Contains(t, buf.String(), "operation panicked")
}

func TestScheduler_WaitAll(t *testing.T) {
	s := New(3)
	var handles []*Handle
	for _, peer := range []string{"a", "b", "c"} {
		op := &fakeOp{id: MakeIdentity("send", peer)}
		handles = append(handles, s.Schedule(op))
	}
	for _, peer := range []string{"a", "b", "c"} {
		s.NotifySuccess(MakeIdentity("send", peer), nil)
	}
	assert.NoError(t, WaitAll(context.Background(), handles...))
}

func TestScheduler_ExecuteNonNil(t *testing.T) {
	s := New(1)
	op := &fakeOp{id: MakeIdentity("read", "peer-1")}
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.NotifySuccess(op.id, nil)
	}()
	_, err := s.ExecuteNonNil(context.Background(), op)
	assert.ErrorIs(t, err, ErrNilResult)
}

func TestIdentity_Kind(t *testing.T) {
	assert.Equal(t, "send", MakeIdentity("send", "peer-1").Kind())
	assert.Equal(t, "send", MakeIdentity("send").Kind())
}
