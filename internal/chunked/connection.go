// SPDX-License-Identifier: MIT

package chunked

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/metrics"
	"github.com/camlink/camlink/internal/ratelimit"
	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

type preparedEntry struct {
	offset int
	value  []byte
}

// Connection holds the reassembly state and outbound send path for one
// connected peer. It lives for the lifetime of the peer connection and is
// dropped on disconnect.
type Connection struct {
	peer       transport.PeerID
	logger     zerolog.Logger
	sched      *scheduler.Scheduler
	radio      transport.Radio
	handler    transport.Handler
	pacer      *ratelimit.Pacer
	overhead   int
	maxMessage int

	mu       sync.Mutex
	unitSize int
	acc      map[transport.ChannelID][]byte
	prepared map[transport.ChannelID][]preparedEntry
}

func newConnection(m *Manager, peer transport.PeerID) *Connection {
	return &Connection{
		peer:       peer,
		logger:     m.logger.With().Str(log.FieldPeerID, string(peer)).Logger(),
		sched:      m.sched,
		radio:      m.radio,
		handler:    m.handler,
		pacer:      m.pacer,
		overhead:   m.overhead,
		maxMessage: m.maxMessage,
		unitSize:   m.defaultUnit,
		acc:        make(map[transport.ChannelID][]byte),
		prepared:   make(map[transport.ChannelID][]preparedEntry),
	}
}

func (c *Connection) setUnitSize(n int) {
	c.mu.Lock()
	c.unitSize = n
	c.mu.Unlock()
	c.logger.Info().Int(log.FieldUnitSize, n).Msg("negotiated unit size changed")
}

// UnitSize returns the current negotiated unit size for the peer.
func (c *Connection) UnitSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unitSize
}

func (c *Connection) fragmentBudget() int {
	return c.UnitSize() - c.overhead
}

// Write appends fragment bytes to the channel accumulator and handles any
// message the append completed.
func (c *Connection) Write(ctx context.Context, channel transport.ChannelID, value []byte) error {
	c.mu.Lock()
	c.acc[channel] = append(c.acc[channel], value...)
	c.mu.Unlock()
	metrics.RecordFragment("in")
	return c.drain(ctx, channel)
}

// PreparedWrite stages fragment bytes at a caller-given offset without
// touching the accumulator. They become visible only on CommitPrepared.
func (c *Connection) PreparedWrite(channel transport.ChannelID, offset int, value []byte) error {
	if offset < 0 {
		metrics.RecordFramingError("negative_offset")
		return framingErrorf("prepared write at negative offset %d", offset)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	c.mu.Lock()
	c.prepared[channel] = append(c.prepared[channel], preparedEntry{offset: offset, value: buf})
	c.mu.Unlock()
	metrics.RecordFragment("in")
	return nil
}

// CommitPrepared assembles the staged entries of every channel in offset
// order. Each entry's offset must equal the running total of bytes assembled
// so far; a gap or overlap rejects the whole set and nothing reaches the
// accumulator. The staged set is consumed either way.
func (c *Connection) CommitPrepared(ctx context.Context) error {
	c.mu.Lock()
	assembled := make(map[transport.ChannelID][]byte, len(c.prepared))
	for channel, entries := range c.prepared {
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })
		var buf []byte
		for _, e := range entries {
			if e.offset != len(buf) {
				c.prepared = make(map[transport.ChannelID][]preparedEntry)
				c.mu.Unlock()
				metrics.RecordPreparedCommit("rejected")
				metrics.RecordFramingError("discontiguous_offsets")
				return framingErrorf("prepared write discontiguous on channel %s: offset %d, assembled %d",
					channel, e.offset, len(buf))
			}
			buf = append(buf, e.value...)
		}
		assembled[channel] = buf
	}
	c.prepared = make(map[transport.ChannelID][]preparedEntry)
	channels := make([]transport.ChannelID, 0, len(assembled))
	for channel, buf := range assembled {
		c.acc[channel] = append(c.acc[channel], buf...)
		channels = append(channels, channel)
	}
	c.mu.Unlock()

	metrics.RecordPreparedCommit("ok")
	for _, channel := range channels {
		if err := c.drain(ctx, channel); err != nil {
			return err
		}
	}
	return nil
}

// RollbackPrepared discards the staged entries.
func (c *Connection) RollbackPrepared() {
	c.mu.Lock()
	c.prepared = make(map[transport.ChannelID][]preparedEntry)
	c.mu.Unlock()
}

// drain extracts every complete message now present in the accumulator,
// hands each to the handler, and sends the handler's reply back out. The
// caller's goroutine blocks until each reply fragment is acknowledged,
// preserving order on the link.
func (c *Connection) drain(ctx context.Context, channel transport.ChannelID) error {
	for {
		c.mu.Lock()
		buf := c.acc[channel]
		msg, rest, found, err := extractMessage(buf)
		c.acc[channel] = append([]byte(nil), rest...)
		c.mu.Unlock()

		if err != nil {
			metrics.RecordFramingError("bad_escape")
			c.logger.Warn().Err(err).Str(log.FieldChannel, string(channel)).Msg("malformed message dropped")
			return err
		}
		if !found {
			if c.maxMessage > 0 && len(buf) > c.maxMessage {
				c.mu.Lock()
				delete(c.acc, channel)
				c.mu.Unlock()
				metrics.RecordFramingError("message_too_large")
				return framingErrorf("channel %s accumulated %d bytes without an end marker (limit %d)",
					channel, len(buf), c.maxMessage)
			}
			return nil
		}

		metrics.RecordMessage("in")
		resp, herr := c.handler.Handle(ctx, c.peer, msg)
		if herr != nil {
			c.logger.Error().Err(herr).Str(log.FieldChannel, string(channel)).Msg("request handler failed")
			continue
		}
		if resp == nil {
			continue
		}
		if serr := c.SendResponse(ctx, channel, resp); serr != nil {
			c.logger.Error().Err(serr).Str(log.FieldChannel, string(channel)).Msg("response send failed")
			return serr
		}
	}
}

// SendResponse frames the payload and pushes it out as successive fragments
// of at most the usable budget, one awaited send at a time. Concurrent
// senders to the same peer are serialized by the send operation's identity.
func (c *Connection) SendResponse(ctx context.Context, channel transport.ChannelID, payload []byte) error {
	budget := c.fragmentBudget()
	if budget <= 0 {
		metrics.RecordFramingError("unit_size")
		return framingErrorf("unit size %d leaves no room for payload (overhead %d)", c.UnitSize(), c.overhead)
	}

	framed := Frame(payload)
	for off := 0; off < len(framed); off += budget {
		end := off + budget
		if end > len(framed) {
			end = len(framed)
		}
		op := &sendOp{conn: c, channel: channel, value: framed[off:end]}
		if _, err := c.sched.Execute(ctx, op); err != nil {
			return fmt.Errorf("send fragment at %d: %w", off, err)
		}
		metrics.RecordFragment("out")
	}
	metrics.RecordMessage("out")
	return nil
}

// clear drops all reassembly state, used on disconnect.
func (c *Connection) clear() {
	c.mu.Lock()
	c.acc = make(map[transport.ChannelID][]byte)
	c.prepared = make(map[transport.ChannelID][]preparedEntry)
	c.mu.Unlock()
}
