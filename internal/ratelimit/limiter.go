// SPDX-License-Identifier: MIT

// Package ratelimit paces outbound radio traffic: one global fragment
// budget shared by all peers, plus an independent budget per peer so a
// chatty connection cannot starve the others.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/camlink/camlink/internal/transport"
)

var throttled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "ratelimit_throttled_total",
		Help:      "Total sends delayed by a rate limit",
	},
	[]string{"scope"},
)

// Config holds the pacing budgets. A zero rate disables that scope.
type Config struct {
	// Global limits, in fragments per second.
	GlobalRate  rate.Limit
	GlobalBurst int

	// Per-peer limits.
	PerPeerRate  rate.Limit
	PerPeerBurst int

	// CleanupInterval bounds how long an idle peer's limiter is kept.
	CleanupInterval time.Duration
}

type peerLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Pacer applies the configured budgets to outbound fragment sends.
type Pacer struct {
	cfg    Config
	global *rate.Limiter

	mu          sync.Mutex
	perPeer     map[transport.PeerID]*peerLimiter
	lastCleanup time.Time
}

// New creates a pacer with the given budgets.
func New(cfg Config) *Pacer {
	p := &Pacer{
		cfg:         cfg,
		perPeer:     make(map[transport.PeerID]*peerLimiter),
		lastCleanup: time.Now(),
	}
	if cfg.GlobalRate > 0 {
		p.global = rate.NewLimiter(cfg.GlobalRate, cfg.GlobalBurst)
	}
	return p
}

// Wait blocks until one fragment send to the peer is within budget, or ctx
// is done.
func (p *Pacer) Wait(ctx context.Context, peer transport.PeerID) error {
	if p == nil {
		return nil
	}
	if p.global != nil {
		if err := waitLimiter(ctx, p.global, "global"); err != nil {
			return err
		}
	}
	if p.cfg.PerPeerRate > 0 {
		if err := waitLimiter(ctx, p.peerLimiter(peer), "per_peer"); err != nil {
			return err
		}
	}
	p.maybeCleanup()
	return nil
}

func (p *Pacer) peerLimiter(peer transport.PeerID) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.perPeer[peer]
	if !ok {
		pl = &peerLimiter{lim: rate.NewLimiter(p.cfg.PerPeerRate, p.cfg.PerPeerBurst)}
		p.perPeer[peer] = pl
	}
	pl.lastSeen = time.Now()
	return pl.lim
}

func (p *Pacer) maybeCleanup() {
	if p.cfg.CleanupInterval <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Since(p.lastCleanup) < p.cfg.CleanupInterval {
		return
	}
	for peer, pl := range p.perPeer {
		if time.Since(pl.lastSeen) >= p.cfg.CleanupInterval {
			delete(p.perPeer, peer)
		}
	}
	p.lastCleanup = time.Now()
}

// waitLimiter reserves a token and sleeps out its delay under ctx.
func waitLimiter(ctx context.Context, lim *rate.Limiter, scope string) error {
	r := lim.Reserve()
	if !r.OK() {
		throttled.WithLabelValues(scope).Inc()
		return context.DeadlineExceeded
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	throttled.WithLabelValues(scope).Inc()
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
