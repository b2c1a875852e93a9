// SPDX-License-Identifier: MIT

package lifecycle

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camlink/camlink/internal/config"
	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const peer = transport.PeerID("camera-1")

type fakeControl struct {
	formStatus   transport.Status
	removeStatus transport.Status
	formCalls    chan Session
	removeCalls  chan Session
	cancels      atomic.Int32
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		formStatus:   transport.StatusSuccess,
		removeStatus: transport.StatusSuccess,
		formCalls:    make(chan Session, 8),
		removeCalls:  make(chan Session, 8),
	}
}

func (c *fakeControl) FormGroup(session Session) transport.Status {
	c.formCalls <- session
	return c.formStatus
}

func (c *fakeControl) RemoveGroup(session Session) transport.Status {
	c.removeCalls <- session
	return c.removeStatus
}

func (c *fakeControl) CancelFormation(Session) bool {
	c.cancels.Add(1)
	return true
}

func newTestManager(t *testing.T, ctrl *fakeControl, cfg config.LifecycleConfig) *Manager {
	t.Helper()
	m, err := NewManager(ctrl, scheduler.New(4), cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func defaultCfg() config.LifecycleConfig {
	return config.LifecycleConfig{
		FormTimeout:   config.Duration(time.Second),
		RemoveTimeout: config.Duration(time.Second),
	}
}

// startAccepted submits a start request and fails the test if it is rejected.
func startAccepted(t *testing.T, m *Manager) {
	t.Helper()
	done := make(chan error, 1)
	m.StartFunc(peer, func(err error) { done <- err })
	require.NoError(t, <-done)
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 2*time.Millisecond, "expected state %s", want)
}

func TestManager_StartRejectedWhileRadioDisabled(t *testing.T) {
	m := newTestManager(t, newFakeControl(), defaultCfg())

	done := make(chan error, 1)
	m.StartFunc(peer, func(err error) { done <- err })
	assert.ErrorIs(t, <-done, ErrDirectDisabled)
	assert.Equal(t, StateDisabled, m.State())
}

func TestManager_FormAndRemoveFlow(t *testing.T) {
	ctrl := newFakeControl()
	m := newTestManager(t, ctrl, defaultCfg())

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)

	startAccepted(t, m)
	waitState(t, m, StateForming)

	formed := <-ctrl.formCalls
	assert.Equal(t, peer, formed.Peer)
	assert.NotEmpty(t, formed.ID)
	assert.Equal(t, formed, m.Session())

	m.OnGroupFormed()
	waitState(t, m, StateActive)

	m.Stop()
	waitState(t, m, StateRemoving)
	removed := <-ctrl.removeCalls
	assert.Equal(t, formed.ID, removed.ID, "teardown targets the session that formed the group")

	m.OnGroupRemoved()
	waitState(t, m, StateIdle)
}

func TestManager_StartRejectedDuringRemoval(t *testing.T) {
	ctrl := newFakeControl()
	m := newTestManager(t, ctrl, defaultCfg())

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)
	startAccepted(t, m)
	<-ctrl.formCalls
	m.OnGroupFormed()
	waitState(t, m, StateActive)

	m.Stop()
	waitState(t, m, StateRemoving)

	done := make(chan error, 1)
	m.StartFunc(peer, func(err error) { done <- err })
	assert.ErrorIs(t, <-done, ErrRemovalInProgress)

	<-ctrl.removeCalls
	m.OnGroupRemoved()
	waitState(t, m, StateIdle)
}

func TestManager_FormationFailureTearsDown(t *testing.T) {
	ctrl := newFakeControl()
	ctrl.formStatus = transport.StatusFailure
	m := newTestManager(t, ctrl, defaultCfg())

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)
	startAccepted(t, m)

	// The rejected formation drops the machine into removal.
	<-ctrl.formCalls
	waitState(t, m, StateRemoving)
	<-ctrl.removeCalls
	m.OnGroupRemoved()
	waitState(t, m, StateIdle)
}

func TestManager_FormationTimeoutCancelsAndRemoves(t *testing.T) {
	ctrl := newFakeControl()
	cfg := config.LifecycleConfig{
		FormTimeout:   config.Duration(40 * time.Millisecond),
		RemoveTimeout: config.Duration(time.Second),
	}
	m := newTestManager(t, ctrl, cfg)

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)
	startAccepted(t, m)

	// FormGroup is accepted but never completes; the deadline expires.
	<-ctrl.formCalls
	waitState(t, m, StateRemoving)
	require.Eventually(t, func() bool { return ctrl.cancels.Load() > 0 },
		time.Second, 2*time.Millisecond, "timed-out formation must be cancelled")

	<-ctrl.removeCalls
	m.OnGroupRemoved()
	waitState(t, m, StateIdle)
}

func TestManager_PeerLostWhileActive(t *testing.T) {
	ctrl := newFakeControl()
	m := newTestManager(t, ctrl, defaultCfg())

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)
	startAccepted(t, m)
	<-ctrl.formCalls
	m.OnGroupFormed()
	waitState(t, m, StateActive)

	m.PeerLost()
	waitState(t, m, StateRemoving)
	<-ctrl.removeCalls
	m.OnGroupRemoved()
	waitState(t, m, StateIdle)
}

func TestManager_DisableWhileActiveRemovesBestEffort(t *testing.T) {
	ctrl := newFakeControl()
	m := newTestManager(t, ctrl, defaultCfg())

	m.SetRadioEnabled(true)
	waitState(t, m, StateIdle)
	startAccepted(t, m)
	<-ctrl.formCalls
	m.OnGroupFormed()
	waitState(t, m, StateActive)

	m.SetRadioEnabled(false)
	waitState(t, m, StateDisabled)

	session := <-ctrl.removeCalls
	m.OnGroupRemoved()
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, StateDisabled, m.State(), "best-effort removal must not leave disabled")
}
