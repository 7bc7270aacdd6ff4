// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filestore

import (
	"github.com/prometheus/client_golang/prometheus"

	m "github.com/openherd/relay/pkg/metrics"
)

type metrics struct {
	SavedPosts prometheus.Counter
	SaveErrors prometheus.Counter
	ReadErrors prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "filestore"

	return metrics{
		SavedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "saved_posts_count",
			Help:      "Number of posts written.",
		}),
		SaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "save_errors_count",
			Help:      "Number of failed post writes.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "read_errors_count",
			Help:      "Number of post files skipped because they could not be read.",
		}),
	}
}

func (s *Store) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}
