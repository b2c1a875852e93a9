// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"strings"
)

// Identity is the equality-comparable key of a schedulable unit of work.
// Two operations are the same iff their identities are equal; equal
// identities are never run concurrently.
type Identity string

// MakeIdentity builds an identity from its opaque elements. The first
// element is the operation kind, the rest are context parameters.
func MakeIdentity(elems ...string) Identity {
	return Identity(strings.Join(elems, "|"))
}

// Kind returns the leading identity element, used as a metric label.
func (id Identity) Kind() string {
	s := string(id)
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[:i]
	}
	return s
}

func (id Identity) String() string { return string(id) }

// Operation is a named, parameterized unit of asynchronous work.
//
// Run issues the underlying primitive and returns quickly. A nil return
// means the operation is in flight and its terminal result will arrive
// through the scheduler's Notify methods; a non-nil return is delivered
// immediately as the failure result. Run is invoked at most once.
//
// Cancel asks the underlying work to stop and reports whether the request
// took effect. Operations that cannot be interrupted return false; their
// waiter is still unblocked by the scheduler.
type Operation interface {
	Identity() Identity
	Run(ctx context.Context) error
	Cancel() bool
}
