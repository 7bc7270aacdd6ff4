// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node defines the concept of a relay node
// by bootstrapping and injecting all necessary
// dependencies.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/api"
	"github.com/openherd/relay/pkg/debugapi"
	"github.com/openherd/relay/pkg/exchange"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/metrics"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/syncer"
	"github.com/openherd/relay/pkg/tracing"
)

var ErrShutdownInProgress = errors.New("shutdown in progress")

type Relay struct {
	apiServer          *http.Server
	apiAddr            net.Addr
	debugAPIServer     *http.Server
	debugAPIAddr       net.Addr
	syncerCloser       io.Closer
	storeCloser        io.Closer
	stateStoreCloser   io.Closer
	tracerCloser       io.Closer
	errorLogWriter     *io.PipeWriter
	shutdownInProgress bool
	shutdownMutex      sync.Mutex
}

// Options is the complete node configuration. It is built once at startup
// and never modified afterwards.
type Options struct {
	DataDir           string
	StoreBackend      storage.Backend
	APIAddr           string
	DebugAPIAddr      string
	EnableDebugAPI    bool
	Peers             []string
	Identity          api.Identity
	DisableInfoPage   bool
	MaxInboxSize      int64
	InboxRateInterval time.Duration
	InboxRateBurst    int
	PeerPathPrefix    string
	PeerTimeout       time.Duration
	MaxResponseSize   int64
	Sync              syncer.Options

	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string
}

func NewRelay(logger logging.Logger, o Options) (n *Relay, err error) {
	r := &Relay{
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
	}

	defer func() {
		if err != nil {
			if e := r.Shutdown(context.Background()); e != nil {
				logger.Errorf("failed to shut down relay: %v", e)
			}
		}
	}()

	var debugAPIService *debugapi.Service
	if o.EnableDebugAPI {
		// set up basic debug api endpoints for debugging and /health endpoint
		debugAPIService = debugapi.New(logger)

		debugAPIListener, err := net.Listen("tcp", o.DebugAPIAddr)
		if err != nil {
			return nil, fmt.Errorf("debug api listener: %w", err)
		}

		debugAPIServer := &http.Server{
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 60 * time.Second,
			Handler:           debugAPIService,
			ErrorLog:          log.New(r.errorLogWriter, "", 0),
		}

		go func() {
			logger.Infof("debug api address: %s", debugAPIListener.Addr())

			if err := debugAPIServer.Serve(debugAPIListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Debugf("debug api server: %v", err)
				logger.Error("unable to serve debug api")
			}
		}()

		r.debugAPIServer = debugAPIServer
		r.debugAPIAddr = debugAPIListener.Addr()
	}

	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	r.tracerCloser = tracerCloser

	stateStore, err := openStateStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}
	r.stateStoreCloser = stateStore

	store, err := OpenStore(logger, o.DataDir, o.StoreBackend)
	if err != nil {
		return nil, err
	}
	r.storeCloser = store

	book, err := addressbook.New(o.Peers, stateStore)
	if err != nil {
		return nil, fmt.Errorf("address book: %w", err)
	}
	if len(book.Peers()) == 0 {
		logger.Warning("no peers configured, the relay will only serve local posts")
	}

	apiService := api.New(store, logger, api.Options{
		Identity:          o.Identity,
		MaxInboxSize:      o.MaxInboxSize,
		DisableInfoPage:   o.DisableInfoPage,
		InboxRateInterval: o.InboxRateInterval,
		InboxRateBurst:    o.InboxRateBurst,
		Tracer:            tracer,
	})

	apiListener, err := net.Listen("tcp", o.APIAddr)
	if err != nil {
		return nil, fmt.Errorf("api listener: %w", err)
	}

	apiServer := &http.Server{
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 60 * time.Second,
		Handler:           apiService,
		ErrorLog:          log.New(r.errorLogWriter, "", 0),
	}
	// every connection is closed after its response
	apiServer.SetKeepAlivesEnabled(false)

	go func() {
		logger.Infof("api address: %s", apiListener.Addr())

		if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Debugf("api server: %v", err)
			logger.Error("unable to serve api")
		}
	}()

	r.apiServer = apiServer
	r.apiAddr = apiListener.Addr()

	exchangeClient := exchange.New(logger, exchange.Options{
		Timeout:         o.PeerTimeout,
		PathPrefix:      o.PeerPathPrefix,
		MaxResponseSize: o.MaxResponseSize,
		Tracer:          tracer,
	})

	syncOptions := o.Sync
	syncOptions.Tracer = tracer
	syncService := syncer.New(store, book, exchangeClient, logger, syncOptions)
	syncService.Start()
	r.syncerCloser = syncService

	if debugAPIService != nil {
		// register metrics from components
		debugAPIService.MustRegisterMetrics(logger.Metrics()...)
		debugAPIService.MustRegisterMetrics(apiService.Metrics()...)
		debugAPIService.MustRegisterMetrics(exchangeClient.Metrics()...)
		debugAPIService.MustRegisterMetrics(syncService.Metrics()...)
		if c, ok := store.(metrics.Collector); ok {
			debugAPIService.MustRegisterMetrics(c.Metrics()...)
		}

		// inject dependencies and configure full debug api http path routes
		debugAPIService.Configure(store, book, syncService)
	}

	return r, nil
}

// APIAddr returns the address the exchange api listens on.
func (r *Relay) APIAddr() net.Addr {
	return r.apiAddr
}

// DebugAPIAddr returns the debug api address, or nil if it is disabled.
func (r *Relay) DebugAPIAddr() net.Addr {
	return r.debugAPIAddr
}

// Shutdown stops the syncer, gracefully shuts the http servers down and
// closes the stores.
func (r *Relay) Shutdown(ctx context.Context) error {
	var mErr error

	// if a shutdown is already in process, return here
	r.shutdownMutex.Lock()
	if r.shutdownInProgress {
		r.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	r.shutdownInProgress = true
	r.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	tryClose(r.syncerCloser, "syncer")

	var eg errgroup.Group
	if r.apiServer != nil {
		eg.Go(func() error {
			if err := r.apiServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}
	if r.debugAPIServer != nil {
		eg.Go(func() error {
			if err := r.debugAPIServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("debug api server: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	tryClose(r.storeCloser, "post store")
	tryClose(r.stateStoreCloser, "state store")
	tryClose(r.tracerCloser, "tracer")
	tryClose(r.errorLogWriter, "error log writer")

	return mErr
}
