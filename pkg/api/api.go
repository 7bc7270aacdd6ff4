// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api serves the relay exchange protocol: a paginated outbox of
// stored posts, an inbox accepting posts from peers and a plain text
// identity page for everything else.
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openherd/relay/pkg/logging"
	m "github.com/openherd/relay/pkg/metrics"
	"github.com/openherd/relay/pkg/ratelimit"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/tracing"
)

const (
	// DefaultMaxInboxSize is the default limit of an inbox request body.
	DefaultMaxInboxSize = 1024 * 1024
	// DefaultOutboxLimit is the page size used when the limit query
	// parameter is missing or invalid.
	DefaultOutboxLimit = 10

	// ProtocolPrefix is the path prefix under which the exchange endpoints
	// are also served.
	ProtocolPrefix = "/_openherd"
)

type Service interface {
	http.Handler
	m.Collector
}

// Identity describes the node on the identity page.
type Identity struct {
	Nickname string
	Operator string
	Device   string
}

type Options struct {
	Identity Identity
	// MaxInboxSize limits the inbox request body in bytes.
	MaxInboxSize int64
	// DisableInfoPage makes unmatched requests return a json 404 response
	// instead of the identity page.
	DisableInfoPage bool
	// InboxRateInterval is the time in which a client earns one inbox
	// request. Zero disables inbox rate limiting.
	InboxRateInterval time.Duration
	// InboxRateBurst is the number of inbox requests a client can make
	// at once.
	InboxRateBurst int
	Tracer         *tracing.Tracer
}

type server struct {
	store      storage.Store
	logger     logging.Logger
	instanceID string
	limiter    *ratelimit.Limiter
	Options
	http.Handler
	metrics metrics
}

func New(store storage.Store, logger logging.Logger, o Options) Service {
	if o.MaxInboxSize <= 0 {
		o.MaxInboxSize = DefaultMaxInboxSize
	}
	s := &server{
		store:      store,
		logger:     logger,
		instanceID: uuid.NewString(),
		Options:    o,
		metrics:    newMetrics(),
	}

	if o.InboxRateInterval > 0 {
		s.limiter = ratelimit.New(o.InboxRateInterval, o.InboxRateBurst)
	}

	s.setupRouting()

	return s
}
