// SPDX-License-Identifier: MIT

package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/camlink/camlink/internal/log"
)

// Builder declares the rule table of a Machine. All declaration errors are
// collected and surfaced by Build, so table definitions stay fluent.
type Builder[S, E comparable, D any] struct {
	name             string
	initial          S
	states           []S
	events           []E
	rules            map[ruleKey[S, E]]rule[S]
	groups           []timeoutGroup[S, E]
	listener         func(old, new S)
	skipCompleteness bool
	errs             []error
}

// New starts a rule table for a machine over the declared states and events.
// The declared sets drive the completeness check at Build time.
func New[S, E comparable, D any](name string, initial S, states []S, events []E) *Builder[S, E, D] {
	return &Builder[S, E, D]{
		name:    name,
		initial: initial,
		states:  states,
		events:  events,
		rules:   make(map[ruleKey[S, E]]rule[S]),
	}
}

// Clause accumulates the states one event declaration applies to.
type Clause[S, E comparable, D any] struct {
	b      *Builder[S, E, D]
	event  E
	states []S
}

// On begins a rule declaration for one event.
func (b *Builder[S, E, D]) On(event E) *Clause[S, E, D] {
	return &Clause[S, E, D]{b: b, event: event}
}

// States selects the source states the rule applies to.
func (c *Clause[S, E, D]) States(states ...S) *Clause[S, E, D] {
	c.states = append(c.states, states...)
	return c
}

// TransitionTo declares a normal transition to the given state.
func (c *Clause[S, E, D]) TransitionTo(to S) *Builder[S, E, D] {
	return c.add(rule[S]{kind: kindTransition, to: to})
}

// TransitionWithWarning declares a tolerated but unexpected transition.
func (c *Clause[S, E, D]) TransitionWithWarning(to S) *Builder[S, E, D] {
	return c.add(rule[S]{kind: kindWarning, to: to})
}

// Ignore declares that the event has no effect in the selected states.
func (c *Clause[S, E, D]) Ignore() *Builder[S, E, D] {
	return c.add(rule[S]{kind: kindIgnore})
}

// Reject declares the event invalid in the selected states; err is surfaced
// to the submitter's callbacks and the event is otherwise discarded.
func (c *Clause[S, E, D]) Reject(err error) *Builder[S, E, D] {
	return c.add(rule[S]{kind: kindReject, err: err})
}

func (c *Clause[S, E, D]) add(r rule[S]) *Builder[S, E, D] {
	if len(c.states) == 0 {
		c.b.errs = append(c.b.errs, fmt.Errorf("fsm %s: rule for event %v selects no states", c.b.name, c.event))
	}
	for _, s := range c.states {
		k := ruleKey[S, E]{state: s, event: c.event}
		if _, dup := c.b.rules[k]; dup {
			c.b.errs = append(c.b.errs, fmt.Errorf("fsm %s: duplicate rule for (%v, %v)", c.b.name, s, c.event))
			continue
		}
		c.b.rules[k] = r
	}
	return c.b
}

// SetTimeout arms a shared timer over a group of states. Entering the group
// starts the timer, moving between member states leaves it running, leaving
// the group cancels it, and expiry enqueues the given event. A state may
// belong to at most one group.
func (b *Builder[S, E, D]) SetTimeout(after time.Duration, event E, states ...S) *Builder[S, E, D] {
	if after <= 0 {
		b.errs = append(b.errs, fmt.Errorf("fsm %s: timeout must be positive, got %v", b.name, after))
	}
	if len(states) == 0 {
		b.errs = append(b.errs, fmt.Errorf("fsm %s: timeout group declares no states", b.name))
	}
	for _, s := range states {
		for gi, g := range b.groups {
			for _, member := range g.states {
				if member == s {
					b.errs = append(b.errs, fmt.Errorf("fsm %s: state %v already in timeout group %d", b.name, s, gi))
				}
			}
		}
	}
	b.groups = append(b.groups, timeoutGroup[S, E]{after: after, event: event, states: states})
	return b
}

// WithStateListener registers the (old, new) state-change listener.
func (b *Builder[S, E, D]) WithStateListener(fn func(old, new S)) *Builder[S, E, D] {
	b.listener = fn
	return b
}

// WithoutCompletenessCheck skips the cross-product check; events hitting an
// unmapped pair at runtime are then logged and dropped.
func (b *Builder[S, E, D]) WithoutCompletenessCheck() *Builder[S, E, D] {
	b.skipCompleteness = true
	return b
}

// Build validates the table and starts the machine's worker.
func (b *Builder[S, E, D]) Build() (*Machine[S, E, D], error) {
	errs := append([]error(nil), b.errs...)

	declared := make(map[S]bool, len(b.states))
	for _, s := range b.states {
		declared[s] = true
	}
	declaredEvents := make(map[E]bool, len(b.events))
	for _, e := range b.events {
		declaredEvents[e] = true
	}
	if !declared[b.initial] {
		errs = append(errs, fmt.Errorf("fsm %s: initial state %v not declared", b.name, b.initial))
	}
	for k := range b.rules {
		if !declared[k.state] {
			errs = append(errs, fmt.Errorf("fsm %s: rule references undeclared state %v", b.name, k.state))
		}
		if !declaredEvents[k.event] {
			errs = append(errs, fmt.Errorf("fsm %s: rule references undeclared event %v", b.name, k.event))
		}
	}
	for _, g := range b.groups {
		for _, s := range g.states {
			if !declared[s] {
				errs = append(errs, fmt.Errorf("fsm %s: timeout group references undeclared state %v", b.name, s))
			}
		}
	}
	if !b.skipCompleteness {
		if err := b.checkRuleCompleteness(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	groupOf := make(map[S]int)
	for gi, g := range b.groups {
		for _, s := range g.states {
			groupOf[s] = gi
		}
	}

	m := &Machine[S, E, D]{
		name:       b.name,
		logger:     log.WithComponent("fsm").With().Str(log.FieldMachine, b.name).Logger(),
		rules:      b.rules,
		groups:     b.groups,
		groupOf:    groupOf,
		listener:   b.listener,
		state:      b.initial,
		timerGroup: -1,
		workerDone: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)

	if gi, ok := groupOf[b.initial]; ok {
		m.mu.Lock()
		m.armLocked(gi)
		m.mu.Unlock()
	}

	go m.worker()
	return m, nil
}

// checkRuleCompleteness verifies that every declared (state, event) pair is
// mapped by exactly one rule.
func (b *Builder[S, E, D]) checkRuleCompleteness() error {
	var missing []string
	for _, s := range b.states {
		for _, e := range b.events {
			if _, ok := b.rules[ruleKey[S, E]{state: s, event: e}]; !ok {
				missing = append(missing, fmt.Sprintf("(%v, %v)", s, e))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("fsm %s: rule table incomplete, unmapped pairs: %v", b.name, missing)
	}
	return nil
}
