package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// classifiedTotal counts classifier decisions by outcome
	// (not_processed, ignored, join, welcome).
	classifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcome_classified_messages_total",
			Help: "Messages classified by the reconciliation engine, by outcome.",
		},
		[]string{"outcome"},
	)

	// pagesFetched counts history pages returned by the provider.
	pagesFetched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "welcome_history_pages_total",
			Help: "Channel history pages fetched by the scanner.",
		},
	)

	// scansTotal counts finished scans by result ("ok", "page_error", "store_error").
	scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "welcome_scans_total",
			Help: "Channel scans run, by result.",
		},
		[]string{"result"},
	)

	scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "welcome_scan_duration_seconds",
			Help:    "Wall time of a full channel scan.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// staleRemoved counts join records deleted because their message is gone.
	staleRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "welcome_stale_joins_removed_total",
			Help: "Join records removed by the reporter because the message no longer exists.",
		},
	)
)

func init() {
	prometheus.MustRegister(classifiedTotal, pagesFetched, scansTotal, scanDuration, staleRemoved)
}
