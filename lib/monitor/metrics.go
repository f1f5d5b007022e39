// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roost-sh/roost/lib/store"
)

// Metrics holds the monitor's Prometheus instruments.
type Metrics struct {
	sweepDuration   prometheus.Histogram
	checksTotal     prometheus.Counter
	failuresTotal   prometheus.Counter
	restartsTotal   prometheus.Counter
	recoveriesTotal prometheus.Counter
	tenantsByStatus *prometheus.GaugeVec
}

// NewMetrics registers the monitor's instruments with the given
// registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one full health sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		checksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Health checks performed.",
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "check_failures_total",
			Help:      "Health checks that found the workload unreachable or inactive.",
		}),
		restartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "restart_attempts_total",
			Help:      "Remote service restart attempts.",
		}),
		recoveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "recoveries_total",
			Help:      "Tenants that returned to healthy after an unhealthy streak.",
		}),
		tenantsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "roost",
			Subsystem: "monitor",
			Name:      "tenants",
			Help:      "Tenants by health status as of the last sweep.",
		}, []string{"status"}),
	}
	registerer.MustRegister(
		metrics.sweepDuration,
		metrics.checksTotal,
		metrics.failuresTotal,
		metrics.restartsTotal,
		metrics.recoveriesTotal,
		metrics.tenantsByStatus,
	)
	return metrics
}

func (metrics *Metrics) observeSweep(seconds float64, statusCounts map[store.HealthStatus]int) {
	if metrics == nil {
		return
	}
	metrics.sweepDuration.Observe(seconds)
	for _, status := range []store.HealthStatus{
		store.HealthHealthy, store.HealthUnhealthy, store.HealthDown, store.HealthCircuitOpen,
	} {
		metrics.tenantsByStatus.WithLabelValues(string(status)).Set(float64(statusCounts[status]))
	}
}

func (metrics *Metrics) countCheck() {
	if metrics != nil {
		metrics.checksTotal.Inc()
	}
}

func (metrics *Metrics) countFailure() {
	if metrics != nil {
		metrics.failuresTotal.Inc()
	}
}

func (metrics *Metrics) countRestart() {
	if metrics != nil {
		metrics.restartsTotal.Inc()
	}
}

func (metrics *Metrics) countRecovery() {
	if metrics != nil {
		metrics.recoveriesTotal.Inc()
	}
}
