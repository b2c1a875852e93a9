// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestPacer_WaitWithinBurst(t *testing.T) {
	p := New(Config{GlobalRate: 1, GlobalBurst: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		assert.NoError(t, p.Wait(ctx, "peer-1"), "send %d should be within burst", i)
	}
	assert.Error(t, p.Wait(ctx, "peer-1"), "burst exhausted")
}

func TestPacer_PerPeerIsolation(t *testing.T) {
	p := New(Config{PerPeerRate: rate.Limit(0.1), PerPeerBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Wait(ctx, "peer-1"))
	assert.Error(t, p.Wait(ctx, "peer-1"), "peer-1 budget exhausted")
	assert.NoError(t, p.Wait(ctx, "peer-2"), "peer-2 has its own budget")
}

func TestPacer_WaitPacesSends(t *testing.T) {
	p := New(Config{GlobalRate: 100, GlobalBurst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, p.Wait(ctx, "peer-1"))
	require.NoError(t, p.Wait(ctx, "peer-1"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond,
		"second send must wait out the refill interval")
}

func TestPacer_WaitHonoursContext(t *testing.T) {
	p := New(Config{GlobalRate: rate.Limit(0.1), GlobalBurst: 1})
	require.NoError(t, p.Wait(context.Background(), "peer-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx, "peer-1"))
}

func TestPacer_NilPacerIsUnlimited(t *testing.T) {
	var p *Pacer
	assert.NoError(t, p.Wait(context.Background(), "peer-1"))
}

func TestPacer_CleanupDropsIdlePeers(t *testing.T) {
	p := New(Config{PerPeerRate: 1, PerPeerBurst: 1, CleanupInterval: time.Nanosecond})
	require.NoError(t, p.Wait(context.Background(), "peer-1"))
	time.Sleep(time.Millisecond)
	require.NoError(t, p.Wait(context.Background(), "peer-2"))

	p.mu.Lock()
	_, stale := p.perPeer["peer-1"]
	p.mu.Unlock()
	assert.False(t, stale, "idle peer limiter must be dropped")
}
