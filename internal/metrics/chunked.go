// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunkedFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "chunked_fragments_total",
		Help:      "Fragments moved through the chunked layer by direction",
	}, []string{"direction"})

	chunkedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "chunked_messages_total",
		Help:      "Complete logical messages by direction",
	}, []string{"direction"})

	framingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "chunked_framing_errors_total",
		Help:      "Framing protocol violations by reason",
	}, []string{"reason"})

	preparedCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "chunked_prepared_commits_total",
		Help:      "Prepared write commits by outcome",
	}, []string{"outcome"})
)

// RecordFragment counts one fragment; direction is "in" or "out".
func RecordFragment(direction string) {
	chunkedFragments.WithLabelValues(direction).Inc()
}

// RecordMessage counts one complete logical message; direction is "in" or "out".
func RecordMessage(direction string) {
	chunkedMessages.WithLabelValues(direction).Inc()
}

// RecordFramingError counts one protocol violation.
func RecordFramingError(reason string) {
	framingErrors.WithLabelValues(reason).Inc()
}

// RecordPreparedCommit counts a commit attempt; outcome is "ok" or "rejected".
func RecordPreparedCommit(outcome string) {
	preparedCommits.WithLabelValues(outcome).Inc()
}
