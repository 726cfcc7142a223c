// Package metrics exposes the client's Prometheus metrics. All series are
// labelled by zone so several clients can share one process.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set of raw Prometheus metrics.
// Labels
// * zone
// * result
// * reason
// Do not update directly, use Report* functions.
var (
	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "update_cycles_total",
		Help:      "The total number of update cycles by result.",
	},
		[]string{"zone", "result"},
	)
	cycleDurationSec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "update_cycle_duration_seconds",
		Help:      "Bucketed histogram of update cycle duration.",
		// 1ms up to ~16s
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	},
		[]string{"zone"},
	)
	patchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "patch_failures_total",
		Help:      "The total number of discarded patches by reason.",
	},
		[]string{"zone", "reason"},
	)
	staleResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "stale_responses_total",
		Help:      "The total number of responses older than the data already held.",
	},
		[]string{"zone"},
	)
	snapshotVersion = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "snapshot_version",
		Help:      "The version of the latest published snapshot.",
	},
		[]string{"zone"},
	)
	remoteBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "remote_tree_bytes",
		Help:      "The size of the remote data held by the latest snapshot.",
	},
		[]string{"zone"},
	)
	observedPaths = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clusterconfig",
		Subsystem: "client",
		Name:      "observed_paths",
		Help:      "The current number of tracked settings paths.",
	},
		[]string{"zone"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDurationSec)
	prometheus.MustRegister(patchFailures)
	prometheus.MustRegister(staleResponses)
	prometheus.MustRegister(snapshotVersion)
	prometheus.MustRegister(remoteBytes)
	prometheus.MustRegister(observedPaths)
}

// ReportCycle records one finished update cycle.
func ReportCycle(zone string, took time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	cyclesTotal.WithLabelValues(zone, result).Inc()
	cycleDurationSec.WithLabelValues(zone).Observe(took.Seconds())
}

// ReportPatchFailure records a discarded patch.
func ReportPatchFailure(zone, reason string) {
	patchFailures.WithLabelValues(zone, reason).Inc()
}

// ReportStaleResponse records a response that was older than held data.
func ReportStaleResponse(zone string) {
	staleResponses.WithLabelValues(zone).Inc()
}

// ReportSnapshot records a newly published snapshot.
func ReportSnapshot(zone string, version int64, size int) {
	snapshotVersion.WithLabelValues(zone).Set(float64(version))
	remoteBytes.WithLabelValues(zone).Set(float64(size))
}

// ReportObservedPaths records the tracker size.
func ReportObservedPaths(zone string, n int) {
	observedPaths.WithLabelValues(zone).Set(float64(n))
}
