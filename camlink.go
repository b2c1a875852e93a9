// SPDX-License-Identifier: MIT

// Package camlink coordinates control of a camera device over a
// point-to-point radio link: a bounded-concurrency operation scheduler
// turns the radio's callback primitives into waitable operations, a
// rule-table state machine sequences connection lifecycles, and a chunked
// framing layer reassembles logical messages from size-bounded fragments.
//
// The physical radio, the request handler, and the group control surface
// are supplied by the host; camlink owns only coordination.
package camlink

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/camlink/camlink/internal/chunked"
	"github.com/camlink/camlink/internal/config"
	"github.com/camlink/camlink/internal/lifecycle"
	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/ratelimit"
	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

// Re-exports of the types a host application touches, so hosts never
// import the internal packages directly.
type (
	Config       = config.Config
	PeerID       = transport.PeerID
	ChannelID    = transport.ChannelID
	Status       = transport.Status
	Radio        = transport.Radio
	Handler      = transport.Handler
	Callbacks    = transport.Callbacks
	GroupControl = lifecycle.GroupControl
	Session      = lifecycle.Session
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return config.Default() }

// ConfigFromYAML decodes a YAML document over the defaults.
func ConfigFromYAML(data []byte) (Config, error) { return config.FromYAML(data) }

// Coordinator bundles the coordination layer for one radio.
type Coordinator struct {
	cfg    config.Config
	radio  transport.Radio
	sched  *scheduler.Scheduler
	chunks *chunked.Manager
	groups *lifecycle.Manager
}

// New wires the layer together. Every collaborator is injected; New keeps
// no global state beyond the process logger.
func New(cfg config.Config, radio transport.Radio, ctrl lifecycle.GroupControl, handler transport.Handler) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Configure(log.Config{Level: cfg.Log.Level})

	sched := scheduler.New(cfg.Scheduler.MaxConcurrent,
		scheduler.WithDefaultTimeout(cfg.Scheduler.DefaultTimeout.Std()))

	opts := []chunked.ManagerOption{
		chunked.WithReservedOverhead(cfg.Chunked.ReservedOverhead),
		chunked.WithDefaultUnitSize(cfg.Chunked.DefaultUnitSize),
		chunked.WithMaxMessageSize(cfg.Chunked.MaxMessageSize),
	}
	if cfg.Chunked.SendRate > 0 || cfg.Chunked.PeerSendRate > 0 {
		opts = append(opts, chunked.WithSendPacer(ratelimit.New(ratelimit.Config{
			GlobalRate:      rate.Limit(cfg.Chunked.SendRate),
			GlobalBurst:     cfg.Chunked.SendBurst,
			PerPeerRate:     rate.Limit(cfg.Chunked.PeerSendRate),
			PerPeerBurst:    cfg.Chunked.PeerSendBurst,
			CleanupInterval: 5 * time.Minute,
		})))
	}
	chunks := chunked.NewManager(radio, handler, sched, opts...)

	groups, err := lifecycle.NewManager(ctrl, sched, cfg.Lifecycle)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:    cfg,
		radio:  radio,
		sched:  sched,
		chunks: chunks,
		groups: groups,
	}, nil
}

// Callbacks returns the sink the host registers with the radio stack.
func (c *Coordinator) Callbacks() transport.Callbacks { return c.chunks }

// Scheduler exposes the shared operation scheduler.
func (c *Coordinator) Scheduler() *scheduler.Scheduler { return c.sched }

// Chunked exposes the framing layer.
func (c *Coordinator) Chunked() *chunked.Manager { return c.chunks }

// Groups exposes the group-negotiation manager.
func (c *Coordinator) Groups() *lifecycle.Manager { return c.groups }

// Open opens the radio channel.
func (c *Coordinator) Open(ctx context.Context) error {
	return c.radio.Open(ctx)
}

// Close stops the lifecycle worker and closes the radio channel.
func (c *Coordinator) Close() error {
	c.groups.Close()
	return c.radio.Close()
}
