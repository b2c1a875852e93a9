// SPDX-License-Identifier: MIT

// Package fsm implements a generic rule-table state machine: every declared
// (state, event) pair resolves to exactly one declared outcome, events are
// processed strictly one at a time on a single worker, and timers are shared
// across timeout groups of states.
package fsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/camlink/camlink/internal/log"
	"github.com/camlink/camlink/internal/metrics"
)

type ruleKind int

const (
	kindTransition ruleKind = iota
	kindWarning
	kindIgnore
	kindReject
)

func (k ruleKind) label() string {
	switch k {
	case kindTransition:
		return "transition"
	case kindWarning:
		return "warning"
	case kindIgnore:
		return "ignored"
	case kindReject:
		return "rejected"
	}
	return "unhandled"
}

type ruleKey[S, E comparable] struct {
	state S
	event E
}

type rule[S comparable] struct {
	kind ruleKind
	to   S
	err  error
}

type timeoutGroup[S, E comparable] struct {
	after  time.Duration
	event  E
	states []S
}

type envelope[E comparable, D any] struct {
	event   E
	data    D
	hasData bool
	pre     func(error)
	post    func(error)
}

// Machine is an event-driven transition engine with no domain knowledge.
// Events are enqueued without blocking and processed in submission order,
// each to completion before the next begins.
type Machine[S, E comparable, D any] struct {
	name     string
	logger   zerolog.Logger
	rules    map[ruleKey[S, E]]rule[S]
	groups   []timeoutGroup[S, E]
	groupOf  map[S]int
	listener func(old, new S)

	mu         sync.Mutex
	cond       *sync.Cond
	state      S
	data       D
	queue      []envelope[E, D]
	closed     bool
	timer      *time.Timer
	timerGroup int
	timerGen   uint64

	workerDone chan struct{}
}

// State returns the last committed state.
func (m *Machine[S, E, D]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StateData returns the data attached by the last non-rejected event that
// carried any.
func (m *Machine[S, E, D]) StateData() D {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// HandleEvent enqueues an event for processing and returns immediately.
func (m *Machine[S, E, D]) HandleEvent(event E) {
	m.enqueue(envelope[E, D]{event: event})
}

// HandleEventData enqueues an event carrying data. The data replaces the
// machine's stored data unless the event is rejected.
func (m *Machine[S, E, D]) HandleEventData(event E, data D) {
	m.enqueue(envelope[E, D]{event: event, data: data, hasData: true})
}

// HandleEventFunc enqueues an event with pre- and post-transition callbacks.
// Both receive a nil error unless the event was rejected, in which case they
// receive the declared rejection error.
func (m *Machine[S, E, D]) HandleEventFunc(event E, pre, post func(error)) {
	m.enqueue(envelope[E, D]{event: event, pre: pre, post: post})
}

// HandleEventDataFunc combines HandleEventData and HandleEventFunc.
func (m *Machine[S, E, D]) HandleEventDataFunc(event E, data D, pre, post func(error)) {
	m.enqueue(envelope[E, D]{event: event, data: data, hasData: true, pre: pre, post: post})
}

// Close stops the worker after draining already-queued events. Events
// submitted after Close are dropped and logged.
func (m *Machine[S, E, D]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.workerDone
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.cond.Broadcast()
	m.mu.Unlock()
	<-m.workerDone
}

func (m *Machine[S, E, D]) enqueue(env envelope[E, D]) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn().Interface(log.FieldEvent, env.event).Msg("event dropped, machine closed")
		return
	}
	m.queue = append(m.queue, env)
	depth := len(m.queue)
	m.cond.Signal()
	m.mu.Unlock()
	metrics.SetQueueDepth(m.name, depth)
}

func (m *Machine[S, E, D]) worker() {
	defer close(m.workerDone)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mu.Unlock()
			return
		}
		env := m.queue[0]
		m.queue = m.queue[1:]
		depth := len(m.queue)
		m.mu.Unlock()
		metrics.SetQueueDepth(m.name, depth)
		m.process(env)
	}
}

// process applies one event atomically. Lookup order is transition, warning,
// reject, ignore; with a completeness-checked table exactly one applies.
func (m *Machine[S, E, D]) process(env envelope[E, D]) {
	m.mu.Lock()
	cur := m.state
	m.mu.Unlock()

	r, ok := m.rules[ruleKey[S, E]{state: cur, event: env.event}]
	if !ok {
		// Only reachable when the completeness check was skipped.
		m.logger.Warn().
			Interface(log.FieldEvent, env.event).
			Interface(log.FieldOldState, cur).
			Msg("unhandled event dropped")
		metrics.RecordTransition(m.name, "unhandled")
		if env.pre != nil {
			env.pre(nil)
		}
		if env.post != nil {
			env.post(nil)
		}
		return
	}

	var rejectErr error
	if r.kind == kindReject {
		rejectErr = r.err
	}

	if env.pre != nil {
		env.pre(rejectErr)
	}

	if rejectErr == nil && env.hasData {
		m.mu.Lock()
		m.data = env.data
		m.mu.Unlock()
	}

	switch r.kind {
	case kindReject:
		m.logger.Info().
			Interface(log.FieldEvent, env.event).
			Interface(log.FieldOldState, cur).
			Err(rejectErr).
			Msg("event rejected")
	case kindIgnore:
		m.logger.Debug().
			Interface(log.FieldEvent, env.event).
			Interface(log.FieldOldState, cur).
			Msg("event ignored")
	case kindTransition, kindWarning:
		m.apply(cur, env.event, r)
	}

	metrics.RecordTransition(m.name, r.kind.label())

	if env.post != nil {
		env.post(rejectErr)
	}
}

func (m *Machine[S, E, D]) apply(cur S, event E, r rule[S]) {
	if r.to == cur {
		return
	}

	m.mu.Lock()
	old := m.state
	m.state = r.to
	m.retimeLocked(old, r.to)
	m.mu.Unlock()

	evt := m.logger.Info()
	if r.kind == kindWarning {
		evt = m.logger.Warn()
	}
	evt.Interface(log.FieldEvent, event).
		Interface(log.FieldOldState, old).
		Interface(log.FieldNewState, r.to).
		Msg("state changed")

	if m.listener != nil {
		m.listener(old, r.to)
	}
}

// retimeLocked resets the group timer only when the old and new states
// belong to different timeout groups. Caller holds m.mu.
func (m *Machine[S, E, D]) retimeLocked(old, next S) {
	og, oldHas := m.groupOf[old]
	ng, newHas := m.groupOf[next]
	if oldHas == newHas && (!oldHas || og == ng) {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGroup = -1
	if !newHas {
		return
	}
	m.armLocked(ng)
}

// armLocked starts the timer for a timeout group. Caller holds m.mu.
func (m *Machine[S, E, D]) armLocked(group int) {
	m.timerGen++
	gen := m.timerGen
	m.timerGroup = group
	m.timer = time.AfterFunc(m.groups[group].after, func() {
		m.timerFired(group, gen)
	})
}

// timerFired synthesizes the group's timeout event into the ordinary queue.
func (m *Machine[S, E, D]) timerFired(group int, gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.timerGen || m.timerGroup != group {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.queue = append(m.queue, envelope[E, D]{event: m.groups[group].event})
	m.cond.Signal()
	m.mu.Unlock()
}

// timerGeneration exposes the timer arm counter for tests: a same-group
// transition must leave it unchanged.
func (m *Machine[S, E, D]) timerGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timerGen
}

func (m *Machine[S, E, D]) String() string {
	return fmt.Sprintf("fsm(%s)", m.name)
}
