// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	m "github.com/openherd/relay/pkg/metrics"
)

type metrics struct {
	// all metrics fields must be exported
	// to be able to return them by Metrics()
	// using reflection
	MessageCount *prometheus.CounterVec
}

func newMetrics() metrics {
	subsystem := "log"

	return metrics{
		MessageCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "messages_count",
			Help:      "Number of log messages by level.",
		}, []string{"level"}),
	}
}

func (l *logger) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(l.metrics)
}

// Levels implements logrus.Hook. Only messages at warning level
// and above are counted.
func (m metrics) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
	}
}

func (m metrics) Fire(e *logrus.Entry) error {
	m.MessageCount.WithLabelValues(e.Level.String()).Inc()
	return nil
}
