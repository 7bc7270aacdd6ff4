// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exchange

import (
	m "github.com/openherd/relay/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	PushRequests prometheus.Counter
	PushFailures prometheus.Counter
	PushedPosts  prometheus.Counter
	PullRequests prometheus.Counter
	PullFailures prometheus.Counter
	PulledPosts  prometheus.Counter
	InvalidPosts prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "exchange"

	return metrics{
		PushRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "push_requests_total",
			Help:      "Total number of inbox requests sent to peers.",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "push_failures_total",
			Help:      "Total number of failed inbox requests.",
		}),
		PushedPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pushed_posts_total",
			Help:      "Total number of posts acknowledged by peers.",
		}),
		PullRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pull_requests_total",
			Help:      "Total number of outbox requests sent to peers.",
		}),
		PullFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pull_failures_total",
			Help:      "Total number of failed outbox requests.",
		}),
		PulledPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pulled_posts_total",
			Help:      "Total number of valid posts received from peers.",
		}),
		InvalidPosts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "invalid_posts_total",
			Help:      "Total number of received outbox elements that are not valid posts.",
		}),
	}
}

func (c *Client) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(c.metrics)
}
