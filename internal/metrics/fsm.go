// SPDX-License-Identifier: MIT

// Package metrics exposes the prometheus collectors shared across the
// coordination layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fsmTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "fsm_transitions_total",
		Help:      "State machine event outcomes by machine and kind",
	}, []string{"machine", "kind"})

	fsmQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlink",
		Name:      "fsm_queue_depth",
		Help:      "Pending events queued per state machine",
	}, []string{"machine"})
)

// RecordTransition counts one processed event for a machine.
// Kind is one of: transition, warning, ignored, rejected, unhandled.
func RecordTransition(machine, kind string) {
	fsmTransitions.WithLabelValues(machine, kind).Inc()
}

// SetQueueDepth records the number of events waiting for the machine worker.
func SetQueueDepth(machine string, depth int) {
	fsmQueueDepth.WithLabelValues(machine).Set(float64(depth))
}
