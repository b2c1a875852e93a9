// SPDX-License-Identifier: MIT

package chunked

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/ratelimit"
	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

// Default unit size before the peer negotiates a larger one, and the fixed
// per-fragment overhead reserved for the link header.
const (
	DefaultUnitSize = 23
	DefaultOverhead = 3

	// DefaultMaxMessageSize bounds the framed bytes accumulated for one
	// message before the channel is reset.
	DefaultMaxMessageSize = 64 * 1024
)

// Manager routes transport callbacks to per-peer connections. It implements
// transport.Callbacks and is registered with the radio by the host.
type Manager struct {
	logger      zerolog.Logger
	sched       *scheduler.Scheduler
	radio       transport.Radio
	handler     transport.Handler
	pacer       *ratelimit.Pacer
	overhead    int
	defaultUnit int
	maxMessage  int

	mu    sync.Mutex
	conns map[transport.PeerID]*Connection
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSendPacer paces outbound fragment sends. A nil pacer is unlimited.
func WithSendPacer(p *ratelimit.Pacer) ManagerOption {
	return func(m *Manager) { m.pacer = p }
}

// WithReservedOverhead sets the fixed bytes subtracted from the negotiated
// unit size to get the usable fragment payload.
func WithReservedOverhead(n int) ManagerOption {
	return func(m *Manager) { m.overhead = n }
}

// WithDefaultUnitSize sets the unit size assumed before negotiation.
func WithDefaultUnitSize(n int) ManagerOption {
	return func(m *Manager) { m.defaultUnit = n }
}

// WithMaxMessageSize caps the framed bytes a channel may accumulate while
// waiting for an end marker. A peer exceeding it has that channel reset.
func WithMaxMessageSize(n int) ManagerOption {
	return func(m *Manager) { m.maxMessage = n }
}

// NewManager wires the chunked layer to its collaborators. All dependencies
// are injected; the manager owns no goroutines.
func NewManager(radio transport.Radio, handler transport.Handler, sched *scheduler.Scheduler, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:      log.WithComponent("chunked"),
		sched:       sched,
		radio:       radio,
		handler:     handler,
		overhead:    DefaultOverhead,
		defaultUnit: DefaultUnitSize,
		maxMessage:  DefaultMaxMessageSize,
		conns:       make(map[transport.PeerID]*Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connection returns the per-peer connection, creating it on first use.
func (m *Manager) Connection(peer transport.PeerID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[peer]
	if !ok {
		c = newConnection(m, peer)
		m.conns[peer] = c
	}
	return c
}

// SendResponse sends an application-initiated message to a peer through the
// outbound fragmentation path.
func (m *Manager) SendResponse(ctx context.Context, peer transport.PeerID, channel transport.ChannelID, payload []byte) error {
	return m.Connection(peer).SendResponse(ctx, channel, payload)
}

// CommitPreparedWrite assembles and commits the peer's staged writes.
func (m *Manager) CommitPreparedWrite(ctx context.Context, peer transport.PeerID) error {
	return m.Connection(peer).CommitPrepared(ctx)
}

// RollbackPreparedWrite discards the peer's staged writes.
func (m *Manager) RollbackPreparedWrite(peer transport.PeerID) {
	m.Connection(peer).RollbackPrepared()
}

// OnFragmentReceived implements transport.Callbacks.
func (m *Manager) OnFragmentReceived(peer transport.PeerID, channel transport.ChannelID, offset int, value []byte, prepared bool) {
	c := m.Connection(peer)
	ctx := log.ContextWithPeerID(context.Background(), string(peer))
	var err error
	if prepared {
		err = c.PreparedWrite(channel, offset, value)
	} else {
		err = c.Write(ctx, channel, value)
	}
	if err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldPeerID, string(peer)).
			Str(log.FieldChannel, string(channel)).
			Msg("inbound fragment rejected")
	}
}

// OnSendComplete implements transport.Callbacks.
func (m *Manager) OnSendComplete(peer transport.PeerID, status transport.Status) {
	if !status.OK() {
		m.logger.Debug().
			Str(log.FieldPeerID, string(peer)).
			Str(log.FieldStatus, status.String()).
			Msg("send completed with error")
	}
	m.sched.NotifyCompletion(sendIdentity(peer), status)
}

// OnUnitSizeChanged implements transport.Callbacks.
func (m *Manager) OnUnitSizeChanged(peer transport.PeerID, size int) {
	m.Connection(peer).setUnitSize(size)
}

// OnPeerConnected implements transport.Callbacks.
func (m *Manager) OnPeerConnected(peer transport.PeerID) {
	m.Connection(peer)
	m.logger.Info().Str(log.FieldPeerID, string(peer)).Msg("peer connected")
}

// OnPeerDisconnected implements transport.Callbacks. All reassembly state
// for the peer is dropped.
func (m *Manager) OnPeerDisconnected(peer transport.PeerID) {
	m.mu.Lock()
	c := m.conns[peer]
	delete(m.conns, peer)
	m.mu.Unlock()
	if c != nil {
		c.clear()
	}
	m.logger.Info().Str(log.FieldPeerID, string(peer)).Msg("peer disconnected")
}
