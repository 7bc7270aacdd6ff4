// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the debug API used to inspect and control the
// relay: health checks, metrics, profiling, post and peer statistics and
// manual sync triggering.
package debugapi

import (
	"net/http"
	"sync"

	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/syncer"
	"github.com/prometheus/client_golang/prometheus"
)

// PeerLister lists the known peers with their last sync reports.
type PeerLister interface {
	Entries() ([]addressbook.Entry, error)
}

// SyncController triggers and describes sync rounds.
type SyncController interface {
	Trigger()
	Status() syncer.Status
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	store           storage.Store
	peers           PeerLister
	syncer          SyncController
	logger          logging.Logger
	metricsRegistry *prometheus.Registry
	// handler is changed in the Configure method
	handler   http.Handler
	handlerMu sync.RWMutex
}

// New creates a new Debug API Service with only basic routers enabled in order
// to expose /health endpoint, Go metrics and pprof. It is useful to expose
// these endpoints before all dependencies are configured and injected.
func New(logger logging.Logger) *Service {
	s := new(Service)
	s.logger = logger
	s.metricsRegistry = newMetricsRegistry()

	s.setRouter(s.newBasicRouter())

	return s
}

// Configure injects required dependencies and constructs HTTP routes that
// depend on them. It is intended and safe to call this method only once.
func (s *Service) Configure(store storage.Store, peers PeerLister, syncer SyncController) {
	s.store = store
	s.peers = peers
	s.syncer = syncer

	s.setRouter(s.newRouter())
}

// ServeHTTP implements http.Handler interface.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// protect handler as it is changed by the Configure method
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}
