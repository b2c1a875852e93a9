// SPDX-License-Identifier: MIT

package camlink_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/camlink/camlink"
	"github.com/camlink/camlink/internal/chunked"
	"github.com/camlink/camlink/internal/lifecycle"
	"github.com/camlink/camlink/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const peer = camlink.PeerID("camera-1")
const channel = camlink.ChannelID("control")

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, _ camlink.PeerID, request []byte) ([]byte, error) {
	return append([]byte("re:"), request...), nil
}

type groupControl struct {
	formCalls   chan camlink.Session
	removeCalls chan camlink.Session
}

func newGroupControl() *groupControl {
	return &groupControl{
		formCalls:   make(chan camlink.Session, 4),
		removeCalls: make(chan camlink.Session, 4),
	}
}

func (c *groupControl) FormGroup(s camlink.Session) camlink.Status {
	c.formCalls <- s
	return transport.StatusSuccess
}

func (c *groupControl) RemoveGroup(s camlink.Session) camlink.Status {
	c.removeCalls <- s
	return transport.StatusSuccess
}

func (c *groupControl) CancelFormation(camlink.Session) bool { return false }

func TestCoordinator_RequestResponseOverRadio(t *testing.T) {
	radio := transport.NewFakeRadio()
	ctrl := newGroupControl()

	c, err := camlink.New(camlink.DefaultConfig(), radio, ctrl, echoHandler{})
	require.NoError(t, err)
	radio.Bind(c.Callbacks())
	require.NoError(t, c.Open(context.Background()))
	defer func() { assert.NoError(t, c.Close()) }()

	cb := c.Callbacks()
	cb.OnPeerConnected(peer)
	cb.OnFragmentReceived(peer, channel, 0, chunked.Frame([]byte("ping")), false)

	var wire []byte
	for _, f := range radio.Sent() {
		wire = append(wire, f.Value...)
	}
	assert.Equal(t, chunked.Frame([]byte("re:ping")), wire)
}

func TestCoordinator_GroupLifecycle(t *testing.T) {
	radio := transport.NewFakeRadio()
	ctrl := newGroupControl()

	c, err := camlink.New(camlink.DefaultConfig(), radio, ctrl, echoHandler{})
	require.NoError(t, err)
	radio.Bind(c.Callbacks())
	defer func() { assert.NoError(t, c.Close()) }()

	groups := c.Groups()
	groups.SetRadioEnabled(true)
	require.Eventually(t, func() bool { return groups.State() == lifecycle.StateIdle },
		time.Second, 2*time.Millisecond)

	groups.Start(peer)
	session := <-ctrl.formCalls
	assert.Equal(t, peer, session.Peer)
	groups.OnGroupFormed()
	require.Eventually(t, func() bool { return groups.State() == lifecycle.StateActive },
		time.Second, 2*time.Millisecond)

	groups.Stop()
	<-ctrl.removeCalls
	groups.OnGroupRemoved()
	require.Eventually(t, func() bool { return groups.State() == lifecycle.StateIdle },
		time.Second, 2*time.Millisecond)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := camlink.DefaultConfig()
	cfg.Scheduler.MaxConcurrent = 0

	_, err := camlink.New(cfg, transport.NewFakeRadio(), newGroupControl(), echoHandler{})
	assert.Error(t, err)
}
