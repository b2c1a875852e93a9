// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	schedulerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Name:      "scheduler_operations_total",
		Help:      "Completed scheduler operations by kind and outcome",
	}, []string{"kind", "outcome"})

	schedulerInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camlink",
		Name:      "scheduler_inflight",
		Help:      "Operations currently holding a concurrency permit",
	})

	schedulerWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "camlink",
		Name:      "scheduler_wait_seconds",
		Help:      "Time from schedule to terminal result",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})
)

// RecordOperation counts one terminal operation result.
// Outcome is one of: success, failure, timeout, cancelled, busy.
func RecordOperation(kind, outcome string) {
	schedulerOperations.WithLabelValues(kind, outcome).Inc()
}

// SetInflight records the number of operations holding a permit.
func SetInflight(n int) {
	schedulerInflight.Set(float64(n))
}

// ObserveWait records schedule-to-result latency for an operation kind.
func ObserveWait(kind string, d time.Duration) {
	schedulerWaitSeconds.WithLabelValues(kind).Observe(d.Seconds())
}
