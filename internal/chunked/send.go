// SPDX-License-Identifier: MIT

package chunked

import (
	"context"

	"github.com/camlink/camlink/internal/scheduler"
	"github.com/camlink/camlink/internal/transport"
)

// sendIdentity collapses all outbound sends for one peer onto a single
// scheduler identity, so fragments are never in flight in parallel and
// concurrent application-level sends queue up naturally.
func sendIdentity(peer transport.PeerID) scheduler.Identity {
	return scheduler.MakeIdentity("send", string(peer))
}

// sendOp pushes one fragment. Run returns once the radio accepted the
// fragment; the terminal result arrives via OnSendComplete.
type sendOp struct {
	conn    *Connection
	channel transport.ChannelID
	value   []byte
}

func (o *sendOp) Identity() scheduler.Identity {
	return sendIdentity(o.conn.peer)
}

func (o *sendOp) Run(ctx context.Context) error {
	if err := o.conn.pacer.Wait(ctx, o.conn.peer); err != nil {
		return err
	}
	st := o.conn.radio.SendFragment(o.conn.peer, o.channel, o.value)
	return st.Err()
}

// Cancel reports false: a fragment handed to the radio cannot be recalled.
// The scheduler still unblocks the waiter.
func (o *sendOp) Cancel() bool { return false }
