// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syncer

import (
	m "github.com/openherd/relay/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Rounds        prometheus.Counter
	RoundDuration prometheus.Histogram
	PeerSyncs     prometheus.Counter
	PeerFailures  prometheus.Counter
	PushedPosts   prometheus.Counter
	PulledPosts   prometheus.Counter
	SaveErrors    prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "syncer"

	return metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rounds_total",
			Help:      "Total number of completed sync rounds.",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "round_duration_seconds",
			Help:      "Histogram of sync round durations.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		PeerSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peer_syncs_total",
			Help:      "Total number of attempted peer synchronizations.",
		}),
		PeerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "peer_failures_total",
			Help:      "Total number of failed peer synchronizations.",
		}),
		PushedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pushed_posts_total",
			Help:      "Total number of posts pushed to peers.",
		}),
		PulledPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pulled_posts_total",
			Help:      "Total number of posts pulled from peers and stored.",
		}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "save_errors_total",
			Help:      "Total number of pulled posts that could not be stored.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
