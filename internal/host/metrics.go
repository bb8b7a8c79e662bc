// SPDX-License-Identifier: MPL-2.0

package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "scriptbox"

// metrics are the controller's collectors. With a nil registerer they are
// left unregistered and still count.
type metrics struct {
	spawns        prometheus.Counter
	spawnFailures prometheus.Counter
	spawnSeconds  prometheus.Histogram
	crashes       prometheus.Counter
	resets        prometheus.Counter
	submissions   prometheus.Counter
	completions   prometheus.Counter
	diagnostics   prometheus.Counter
	faults        prometheus.Counter
	dumps         *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_spawns_total",
			Help:      "Workers started and ready for submissions.",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_spawn_failures_total",
			Help:      "Failed attempts to start a worker.",
		}),
		spawnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "worker_spawn_duration_seconds",
			Help:      "Time from spawn to a ready worker.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_crashes_total",
			Help:      "Workers lost without being closed by the controller.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_resets_total",
			Help:      "Session resets requested by the caller.",
		}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Submissions accepted by a worker.",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "completions_total",
			Help:      "Submissions reported complete by a worker.",
		}),
		diagnostics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compile_failures_total",
			Help:      "Submissions rejected with diagnostics.",
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "unhandled_faults_total",
			Help:      "Unhandled faults reported between submissions.",
		}),
		dumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dumps_total",
			Help:      "Result records received, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.spawns, m.spawnFailures, m.spawnSeconds, m.crashes, m.resets,
			m.submissions, m.completions, m.diagnostics, m.faults, m.dumps,
		)
	}
	return m
}
