// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"sync"
)

// SentFragment records one fragment pushed through a FakeRadio.
type SentFragment struct {
	Peer    PeerID
	Channel ChannelID
	Value   []byte
}

// FakeRadio is a scriptable in-memory Radio for tests. Completions are
// delivered asynchronously on their own goroutine, mimicking the callback
// threads of a real stack.
type FakeRadio struct {
	mu             sync.Mutex
	open           bool
	sent           []SentFragment
	callbacks      Callbacks
	sendStatus     Status
	completeStatus Status
	autoComplete   bool
}

func NewFakeRadio() *FakeRadio {
	return &FakeRadio{
		sendStatus:     StatusSuccess,
		completeStatus: StatusSuccess,
		autoComplete:   true,
	}
}

// Bind registers the callback sink that receives completions.
func (r *FakeRadio) Bind(cb Callbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = cb
}

func (r *FakeRadio) Open(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = true
	return nil
}

func (r *FakeRadio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

func (r *FakeRadio) SendFragment(peer PeerID, channel ChannelID, value []byte) Status {
	r.mu.Lock()
	st := r.sendStatus
	if st.OK() {
		buf := make([]byte, len(value))
		copy(buf, value)
		r.sent = append(r.sent, SentFragment{Peer: peer, Channel: channel, Value: buf})
	}
	cb := r.callbacks
	auto := r.autoComplete
	complete := r.completeStatus
	r.mu.Unlock()

	if st.OK() && auto && cb != nil {
		go cb.OnSendComplete(peer, complete)
	}
	return st
}

func (r *FakeRadio) Disconnect(peer PeerID) error {
	r.mu.Lock()
	cb := r.callbacks
	r.mu.Unlock()
	if cb != nil {
		cb.OnPeerDisconnected(peer)
	}
	return nil
}

// CompleteSend delivers a manual send completion, for tests that disable
// auto-completion.
func (r *FakeRadio) CompleteSend(peer PeerID, status Status) {
	r.mu.Lock()
	cb := r.callbacks
	r.mu.Unlock()
	if cb != nil {
		cb.OnSendComplete(peer, status)
	}
}

// Sent returns a copy of all fragments accepted so far.
func (r *FakeRadio) Sent() []SentFragment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentFragment, len(r.sent))
	copy(out, r.sent)
	return out
}

// SetSendStatus configures the status returned by SendFragment.
func (r *FakeRadio) SetSendStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendStatus = st
}

// SetCompleteStatus configures the status delivered on completion.
func (r *FakeRadio) SetCompleteStatus(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeStatus = st
}

// SetAutoComplete toggles automatic completion delivery after each send.
func (r *FakeRadio) SetAutoComplete(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoComplete = on
}
