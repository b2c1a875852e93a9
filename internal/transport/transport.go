// SPDX-License-Identifier: MIT

// Package transport declares the narrow interfaces the coordination layer
// consumes from the host radio stack, plus the native status codes it maps
// into errors. The physical link itself lives outside this module.
package transport

import (
	"context"
	"fmt"
)

// PeerID identifies one connected remote device.
type PeerID string

// ChannelID identifies one logical channel (characteristic) on a peer.
type ChannelID string

// Status is the native completion code reported by the radio stack.
type Status int

const (
	StatusSuccess               Status = 0x00
	StatusInvalidHandle         Status = 0x01
	StatusWriteNotPermitted     Status = 0x03
	StatusRequestNotSupported   Status = 0x06
	StatusInvalidOffset         Status = 0x07
	StatusPrepareQueueFull      Status = 0x09
	StatusInsufficientResources Status = 0x11
	StatusConnectionCongested   Status = 0x8f
	StatusFailure               Status = 0x101
)

var statusNames = map[Status]string{
	StatusSuccess:               "success",
	StatusInvalidHandle:         "invalid handle",
	StatusWriteNotPermitted:     "write not permitted",
	StatusRequestNotSupported:   "request not supported",
	StatusInvalidOffset:         "invalid offset",
	StatusPrepareQueueFull:      "prepare queue full",
	StatusInsufficientResources: "insufficient resources",
	StatusConnectionCongested:   "connection congested",
	StatusFailure:               "failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown status 0x%02x", int(s))
}

// OK reports whether the status indicates a successful completion.
func (s Status) OK() bool { return s == StatusSuccess }

// Error wraps a non-success native status code.
type Error struct {
	Code Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s (status 0x%02x)", e.Code.String(), int(e.Code))
}

// Err returns nil for a success status and an *Error otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &Error{Code: s}
}

// Radio is the asynchronous primitive set supplied by the host environment.
// SendFragment returns the synchronous accept/reject status; the actual
// completion of an accepted send is reported later via Callbacks.OnSendComplete.
type Radio interface {
	Open(ctx context.Context) error
	Close() error
	SendFragment(peer PeerID, channel ChannelID, value []byte) Status
	Disconnect(peer PeerID) error
}

// Callbacks is implemented by the coordination layer and driven by the radio
// stack. Each callback may arrive on an arbitrary thread.
type Callbacks interface {
	OnFragmentReceived(peer PeerID, channel ChannelID, offset int, value []byte, prepared bool)
	OnSendComplete(peer PeerID, status Status)
	OnUnitSizeChanged(peer PeerID, size int)
	OnPeerConnected(peer PeerID)
	OnPeerDisconnected(peer PeerID)
}

// Handler consumes one fully reassembled inbound message and produces the
// response payload. Implementations must not block indefinitely.
type Handler interface {
	Handle(ctx context.Context, peer PeerID, request []byte) ([]byte, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, peer PeerID, request []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, peer PeerID, request []byte) ([]byte, error) {
	return f(ctx, peer, request)
}
