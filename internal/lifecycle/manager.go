// SPDX-License-Identifier: MIT

package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/camlink/camlink/internal/config"
	"github.com/camlink/camlink/internal/fsm"
	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

// Manager owns one negotiation machine and issues the scheduler-backed
// group operations its transitions require.
type Manager struct {
	logger  zerolog.Logger
	sched   *scheduler.Scheduler
	ctrl    GroupControl
	cfg     config.LifecycleConfig
	machine *fsm.Machine[State, Event, Session]
}

// NewManager builds the rule table and starts the machine in StateDisabled.
// The table covers the full state/event cross-product; a gap is a
// construction error.
func NewManager(ctrl GroupControl, sched *scheduler.Scheduler, cfg config.LifecycleConfig) (*Manager, error) {
	m := &Manager{
		logger: log.WithComponent("lifecycle"),
		sched:  sched,
		ctrl:   ctrl,
		cfg:    cfg,
	}

	machine, err := fsm.New[State, Event, Session]("lifecycle", StateDisabled, allStates(), allEvents()).
		On(EventEnabled).States(StateDisabled).TransitionTo(StateIdle).
		On(EventEnabled).States(StateIdle, StateForming, StateActive, StateRemoving).Ignore().
		On(EventDisabled).States(StateIdle).TransitionTo(StateDisabled).
		On(EventDisabled).States(StateForming, StateActive, StateRemoving).TransitionWithWarning(StateDisabled).
		On(EventDisabled).States(StateDisabled).Ignore().
		On(EventStart).States(StateDisabled).Reject(ErrDirectDisabled).
		On(EventStart).States(StateIdle).TransitionTo(StateForming).
		On(EventStart).States(StateForming, StateActive).Ignore().
		On(EventStart).States(StateRemoving).Reject(ErrRemovalInProgress).
		On(EventStop).States(StateForming, StateActive).TransitionTo(StateRemoving).
		On(EventStop).States(StateDisabled, StateIdle, StateRemoving).Ignore().
		On(EventGroupFormed).States(StateForming).TransitionTo(StateActive).
		On(EventGroupFormed).States(StateDisabled, StateIdle, StateActive, StateRemoving).Ignore().
		On(EventGroupRemoved).States(StateRemoving).TransitionTo(StateIdle).
		On(EventGroupRemoved).States(StateForming, StateActive).TransitionWithWarning(StateIdle).
		On(EventGroupRemoved).States(StateDisabled, StateIdle).Ignore().
		On(EventPeerLost).States(StateForming, StateActive).TransitionWithWarning(StateRemoving).
		On(EventPeerLost).States(StateDisabled, StateIdle, StateRemoving).Ignore().
		On(EventTimeout).States(StateForming).TransitionTo(StateRemoving).
		On(EventTimeout).States(StateRemoving).TransitionWithWarning(StateIdle).
		On(EventTimeout).States(StateDisabled, StateIdle, StateActive).Ignore().
		SetTimeout(cfg.FormTimeout.Std(), EventTimeout, StateForming).
		SetTimeout(cfg.RemoveTimeout.Std(), EventTimeout, StateRemoving).
		WithStateListener(m.onStateChange).
		Build()
	if err != nil {
		return nil, err
	}
	m.machine = machine
	return m, nil
}

// Start requests formation of a private group with the peer. The request is
// rejected while the radio is disabled or a removal is still in progress.
func (m *Manager) Start(peer transport.PeerID) {
	m.StartFunc(peer, nil)
}

// StartFunc is Start with a completion callback: post receives nil when the
// event was accepted, or the rejection error.
func (m *Manager) StartFunc(peer transport.PeerID, post func(error)) {
	session := Session{ID: uuid.NewString(), Peer: peer}
	m.machine.HandleEventDataFunc(EventStart, session, nil, post)
}

// Stop tears the group down.
func (m *Manager) Stop() {
	m.machine.HandleEvent(EventStop)
}

// SetRadioEnabled feeds the radio's enabled state into the machine.
func (m *Manager) SetRadioEnabled(enabled bool) {
	if enabled {
		m.machine.HandleEvent(EventEnabled)
	} else {
		m.machine.HandleEvent(EventDisabled)
	}
}

// PeerLost reports that the peer connection dropped.
func (m *Manager) PeerLost() {
	m.machine.HandleEvent(EventPeerLost)
}

// OnGroupFormed is called by the host when the radio reports the group up.
func (m *Manager) OnGroupFormed() {
	m.sched.NotifySuccess(formIdentity(m.machine.StateData()), nil)
}

// OnGroupRemoved is called by the host when the radio reports the group gone.
func (m *Manager) OnGroupRemoved() {
	m.sched.NotifySuccess(removeIdentity(m.machine.StateData()), nil)
}

// OnGroupFailed is called by the host when the pending group operation
// failed with a native status.
func (m *Manager) OnGroupFailed(status transport.Status) {
	session := m.machine.StateData()
	if m.machine.State() == StateRemoving {
		m.sched.NotifyCompletion(removeIdentity(session), status)
		return
	}
	m.sched.NotifyCompletion(formIdentity(session), status)
}

// State returns the current negotiation state.
func (m *Manager) State() State {
	return m.machine.State()
}

// Session returns the session of the current or last negotiation attempt.
func (m *Manager) Session() Session {
	return m.machine.StateData()
}

// Close stops the machine worker.
func (m *Manager) Close() {
	m.machine.Close()
}

// sessionContext tags the operation context so scheduler logs carry the
// negotiation identity.
func sessionContext(session Session) context.Context {
	ctx := log.ContextWithSessionID(context.Background(), session.ID)
	return log.ContextWithPeerID(ctx, string(session.Peer))
}

// onStateChange runs on the machine worker; the scheduler waits happen on
// their own goroutines so event processing is never stalled.
func (m *Manager) onStateChange(old, next State) {
	session := m.machine.StateData()
	switch next {
	case StateForming:
		go m.formGroup(session)
	case StateRemoving:
		go m.removeGroup(session)
	case StateDisabled:
		if old == StateForming || old == StateActive || old == StateRemoving {
			m.logger.Warn().
				Str(log.FieldSessionID, session.ID).
				Msg("radio disabled with group pending, best-effort removal")
			go m.removeGroup(session)
		}
	}
}

func (m *Manager) formGroup(session Session) {
	ctx, cancel := context.WithTimeout(sessionContext(session), m.cfg.FormTimeout.Std())
	defer cancel()
	if _, err := m.sched.Execute(ctx, &formGroupOp{ctrl: m.ctrl, session: session}); err != nil {
		m.logger.Error().Err(err).Str(log.FieldSessionID, session.ID).Msg("group formation failed")
		m.machine.HandleEvent(EventStop)
		return
	}
	m.machine.HandleEvent(EventGroupFormed)
}

func (m *Manager) removeGroup(session Session) {
	ctx, cancel := context.WithTimeout(sessionContext(session), m.cfg.RemoveTimeout.Std())
	defer cancel()
	if _, err := m.sched.Execute(ctx, &removeGroupOp{ctrl: m.ctrl, session: session}); err != nil {
		m.logger.Error().Err(err).Str(log.FieldSessionID, session.ID).Msg("group removal failed, forcing idle")
	}
	m.machine.HandleEvent(EventGroupRemoved)
}
