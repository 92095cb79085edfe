// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestd_refresh_total",
		Help: "Source refresh attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure|contended

	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingestd_refresh_duration_seconds",
		Help:    "End-to-end refresh duration",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	streamsMutated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestd_streams_mutated_total",
		Help: "Stream mutations per refresh by kind",
	}, []string{"kind"}) // kind=created|updated|deleted

	channelsProjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestd_channels_projected_total",
		Help: "Auto-channel mutations per refresh by kind",
	}, []string{"kind"})

	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingestd_fetch_attempts_total",
		Help: "Playlist fetch attempts by outcome",
	}, []string{"outcome"}) // outcome=success|status_error|content_invalid|transient

	rehashMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingestd_rehash_merged_total",
		Help: "Duplicate streams merged by rehash runs",
	})
)

// RecordRefresh tracks one refresh outcome and duration.
func RecordRefresh(outcome string, elapsed time.Duration) {
	refreshTotal.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		refreshDuration.Observe(elapsed.Seconds())
	}
}

// RecordStreams tracks stream mutation counts from one refresh.
func RecordStreams(created, updated, deleted int) {
	streamsMutated.WithLabelValues("created").Add(float64(created))
	streamsMutated.WithLabelValues("updated").Add(float64(updated))
	streamsMutated.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordChannels tracks auto-channel mutation counts from one refresh.
func RecordChannels(created, updated, deleted int) {
	channelsProjected.WithLabelValues("created").Add(float64(created))
	channelsProjected.WithLabelValues("updated").Add(float64(updated))
	channelsProjected.WithLabelValues("deleted").Add(float64(deleted))
}

// RecordFetchAttempt tracks one fetch attempt outcome.
func RecordFetchAttempt(outcome string) {
	fetchAttempts.WithLabelValues(outcome).Inc()
}

// RecordRehashMerged tracks duplicates merged by a rehash run.
func RecordRehashMerged(n int) {
	rehashMerged.Add(float64(n))
}
