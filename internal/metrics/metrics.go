// Package metrics registers the service's Prometheus collectors on the
// default registry, exposed by cmd/server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgotrack_mutations_total",
		Help: "Optimistic mutations by operation and terminal state.",
	}, []string{"op", "outcome"})

	SupersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgotrack_superseded_confirmations_total",
		Help: "Mutation completions ignored because a later local mutation superseded them.",
	})

	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "furgotrack_feed_merges_total",
		Help: "Remote change events by merge result.",
	}, []string{"result"})

	ResyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "furgotrack_resyncs_total",
		Help: "Full re-lists of the remote store.",
	})

	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "furgotrack_feed_connected",
		Help: "1 while the change feed subscription is up.",
	})
)
