// SPDX-License-Identifier: MIT

// Package lifecycle drives the private-group negotiation protocol with a
// peer: a rule-table state machine sequences the protocol and scheduler
// operations perform the radio work. It is the canonical consumer of the
// fsm and scheduler packages.
package lifecycle

import (
	"errors"

	"github.com/camlink/camlink/internal/transport"
)

// State of the group negotiation.
type State string

const (
	StateDisabled State = "DISABLED"
	StateIdle     State = "IDLE"
	StateForming  State = "FORMING"
	StateActive   State = "ACTIVE"
	StateRemoving State = "REMOVING"
)

// Event fed into the negotiation machine.
type Event string

const (
	EventStart        Event = "START"
	EventStop         Event = "STOP"
	EventEnabled      Event = "ENABLED"
	EventDisabled     Event = "DISABLED"
	EventGroupFormed  Event = "GROUP_FORMED"
	EventGroupRemoved Event = "GROUP_REMOVED"
	EventPeerLost     Event = "PEER_LOST"
	EventTimeout      Event = "TIMEOUT"
)

func allStates() []State {
	return []State{StateDisabled, StateIdle, StateForming, StateActive, StateRemoving}
}

func allEvents() []Event {
	return []Event{
		EventStart, EventStop, EventEnabled, EventDisabled,
		EventGroupFormed, EventGroupRemoved, EventPeerLost, EventTimeout,
	}
}

var (
	// ErrDirectDisabled rejects a start request while the point-to-point
	// radio is disabled.
	ErrDirectDisabled = errors.New("lifecycle: direct radio is disabled")

	// ErrRemovalInProgress rejects a start request while the previous group
	// is still being torn down.
	ErrRemovalInProgress = errors.New("lifecycle: group removal in progress")
)

// Session identifies one group negotiation attempt.
type Session struct {
	ID   string
	Peer transport.PeerID
}

// GroupControl is the slice of the radio stack that forms and removes
// private groups. Both calls are asynchronous: the returned status only
// acknowledges acceptance, completion arrives via the Manager's On* methods.
type GroupControl interface {
	FormGroup(session Session) transport.Status
	RemoveGroup(session Session) transport.Status
	CancelFormation(session Session) bool
}
