// SPDX-License-Identifier: MIT

package lifecycle

import (
	"context"

	"github.com/camlink/camlink/internal/scheduler"
)

func formIdentity(session Session) scheduler.Identity {
	return scheduler.MakeIdentity("form-group", session.ID)
}

func removeIdentity(session Session) scheduler.Identity {
	return scheduler.MakeIdentity("remove-group", session.ID)
}

type formGroupOp struct {
	ctrl    GroupControl
	session Session
}

func (o *formGroupOp) Identity() scheduler.Identity {
	return formIdentity(o.session)
}

func (o *formGroupOp) Run(_ context.Context) error {
	return o.ctrl.FormGroup(o.session).Err()
}

func (o *formGroupOp) Cancel() bool {
	return o.ctrl.CancelFormation(o.session)
}

type removeGroupOp struct {
	ctrl    GroupControl
	session Session
}

func (o *removeGroupOp) Identity() scheduler.Identity {
	return removeIdentity(o.session)
}

func (o *removeGroupOp) Run(_ context.Context) error {
	return o.ctrl.RemoveGroup(o.session).Err()
}

// Cancel reports false: removal must run to completion once issued.
func (o *removeGroupOp) Cancel() bool { return false }
