// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package syncer periodically reconciles the local post store with every
// known peer. A round pushes all local posts to a peer inbox in small
// batches and then pages through the peer outbox, saving what it receives.
// Peers are handled independently, a failing peer never stops the round.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"

	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/exchange"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/tracing"
)

const (
	DefaultInterval   = 300 * time.Second
	DefaultBatchSize  = 1
	DefaultPageSize   = 10
	DefaultBatchDelay = 100 * time.Millisecond
	DefaultPageDelay  = 100 * time.Millisecond
	DefaultMaxPages   = 1000

	closeTimeout = 10 * time.Second
)

// Options configure the sync engine. Zero counts and a zero interval are
// replaced by defaults, zero delays mean no pause.
type Options struct {
	Interval   time.Duration
	WarmupTime time.Duration
	BatchSize  int
	PageSize   int
	BatchDelay time.Duration
	PageDelay  time.Duration
	MaxPages   int
	Tracer     *tracing.Tracer
}

// RoundResult summarizes a single sync round.
type RoundResult struct {
	Peers  int
	Synced int
	Pushed int
	Pulled int
}

// Status describes the sync engine for the debug api.
type Status struct {
	Running   bool      `json:"running"`
	Rounds    uint64    `json:"rounds"`
	LastRound time.Time `json:"lastRound"`
}

type Service struct {
	store     storage.Store
	book      addressbook.Interface
	exchanger exchange.Interface
	logger    logging.Logger
	o         Options
	metrics   metrics

	roundMu   sync.Mutex
	running   *atomic.Bool
	rounds    *atomic.Uint64
	lastRound *atomic.Time

	triggerC    chan struct{}
	quit        chan struct{}
	workerQuitC chan struct{}
	started     *atomic.Bool
	startOnce   sync.Once
	closeOnce   sync.Once
}

func New(store storage.Store, book addressbook.Interface, exchanger exchange.Interface, logger logging.Logger, o Options) *Service {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.MaxPages <= 0 {
		o.MaxPages = DefaultMaxPages
	}

	return &Service{
		store:       store,
		book:        book,
		exchanger:   exchanger,
		logger:      logger,
		o:           o,
		metrics:     newMetrics(),
		running:     atomic.NewBool(false),
		rounds:      atomic.NewUint64(0),
		lastRound:   atomic.NewTime(time.Time{}),
		triggerC:    make(chan struct{}, 1),
		quit:        make(chan struct{}),
		workerQuitC: make(chan struct{}),
		started:     atomic.NewBool(false),
	}
}

// Start runs sync rounds in the background, the first one after the warmup
// time and then one every interval, until Close is called.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.worker()
	})
}

// Trigger requests a round as soon as possible. Triggers received while a
// round is pending are coalesced into it.
func (s *Service) Trigger() {
	select {
	case s.triggerC <- struct{}{}:
	default:
	}
}

func (s *Service) Status() Status {
	return Status{
		Running:   s.running.Load(),
		Rounds:    s.rounds.Load(),
		LastRound: s.lastRound.Load(),
	}
}

func (s *Service) worker() {
	defer close(s.workerQuitC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	select {
	case <-time.After(s.o.WarmupTime):
	case <-s.quit:
		return
	}

	s.logger.Info("syncer: warmup period complete, worker starting.")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-timer.C:
		case <-s.triggerC:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.SyncRound(ctx)

		timer.Reset(s.o.Interval)
	}
}

// SyncRound synchronizes with every peer in turn. Concurrent calls are
// serialized.
func (s *Service) SyncRound(ctx context.Context) RoundResult {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	start := time.Now()
	peers := s.book.Peers()
	res := RoundResult{Peers: len(peers)}

	span, _, ctx := s.o.Tracer.StartSpanFromContext(ctx, "sync-round", nil)
	defer span.Finish()

	for _, peer := range peers {
		if ctx.Err() != nil {
			break
		}

		attempt := time.Now()
		peerSpan, logger, peerCtx := s.o.Tracer.StartSpanFromContext(ctx, "sync-peer", s.logger, opentracing.Tag{Key: "peer", Value: peer})
		pushed, pulled, err := s.syncPeer(peerCtx, peer)
		res.Pushed += pushed
		res.Pulled += pulled

		if err != nil {
			s.metrics.PeerFailures.Inc()
			peerSpan.SetTag("error", true)
			logger.Debugf("syncer: peer %s: %v", peer, err)
			logger.Warningf("syncer: sync with %s failed", peer)
		} else {
			res.Synced++
			logger.Debugf("syncer: synced with %s, pushed %d pulled %d", peer, pushed, pulled)
		}
		peerSpan.Finish()

		s.report(peer, attempt, pushed, pulled, err)
	}

	s.rounds.Inc()
	s.lastRound.Store(time.Now())
	s.metrics.Rounds.Inc()
	s.metrics.RoundDuration.Observe(time.Since(start).Seconds())
	s.logger.Infof("syncer: round complete, %d/%d peers synced", res.Synced, res.Peers)

	return res
}

func (s *Service) syncPeer(ctx context.Context, peer string) (pushed, pulled int, err error) {
	s.metrics.PeerSyncs.Inc()

	pushed, err = s.push(ctx, peer)
	if err != nil {
		return pushed, 0, fmt.Errorf("push: %w", err)
	}

	pulled, err = s.pull(ctx, peer)
	if err != nil {
		return pushed, pulled, fmt.Errorf("pull: %w", err)
	}
	return pushed, pulled, nil
}

// push sends every local post to the peer inbox, BatchSize posts per
// request, pausing BatchDelay between requests.
func (s *Service) push(ctx context.Context, peer string) (pushed int, err error) {
	limiter := newLimiter(s.o.BatchDelay)
	batch := make([]post.Post, 0, s.o.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.exchanger.Push(ctx, peer, batch); err != nil {
			return err
		}
		pushed += len(batch)
		s.metrics.PushedPosts.Add(float64(len(batch)))
		batch = make([]post.Post, 0, s.o.BatchSize)
		return nil
	}

	if err := s.store.Iterate(0, -1, func(p post.Post) (bool, error) {
		batch = append(batch, p)
		if len(batch) < s.o.BatchSize {
			return false, nil
		}
		return false, flush()
	}); err != nil {
		return pushed, err
	}

	return pushed, flush()
}

// pull pages through the peer outbox until a short page, a page larger than
// requested, a repeat of the first page or MaxPages pages.
func (s *Service) pull(ctx context.Context, peer string) (pulled int, err error) {
	limiter := newLimiter(s.o.PageDelay)

	save := func(p post.Post) error {
		if err := s.store.Save(ctx, p); err != nil {
			s.metrics.SaveErrors.Inc()
			s.logger.Debugf("syncer: save post %s from %s: %v", p.ID, peer, err)
			return nil
		}
		pulled++
		s.metrics.PulledPosts.Inc()
		return nil
	}

	// ids of the first full page; a peer that ignores the offset returns
	// them again on every page.
	var first []string
	var offset int
	for page := 0; page < s.o.MaxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return pulled, err
		}

		var (
			ids     []string
			pending []post.Post
			repeat  = page > 0 && len(first) > 0
		)
		n, err := s.exchanger.Pull(ctx, peer, s.o.PageSize, offset, func(p post.Post) error {
			if page == 0 {
				ids = append(ids, p.ID)
			}
			if repeat {
				if i := len(pending); i < len(first) && p.ID == first[i] {
					pending = append(pending, p)
					return nil
				}
				repeat = false
				for _, q := range pending {
					_ = save(q)
				}
				pending = nil
			}
			return save(p)
		})
		if err != nil {
			return pulled, err
		}
		if repeat && len(pending) == len(first) {
			s.logger.Debugf("syncer: peer %s repeated its first page at offset %d, stop paging", peer, offset)
			return pulled, nil
		}
		for _, q := range pending {
			_ = save(q)
		}
		if page == 0 && n == s.o.PageSize {
			first = ids
		}
		offset += n

		switch {
		case n < s.o.PageSize:
			return pulled, nil
		case n > s.o.PageSize:
			s.logger.Debugf("syncer: peer %s returned %d posts for a page of %d, stop paging", peer, n, s.o.PageSize)
			return pulled, nil
		}
	}

	s.logger.Debugf("syncer: peer %s: stopped after %d pages", peer, s.o.MaxPages)
	return pulled, nil
}

func (s *Service) report(peer string, attempt time.Time, pushed, pulled int, syncErr error) {
	r, err := s.book.Report(peer)
	if err != nil && !errors.Is(err, addressbook.ErrNotFound) {
		s.logger.Debugf("syncer: get report %s: %v", peer, err)
	}

	r.LastAttempt = attempt
	r.Pushed = pushed
	r.Pulled = pulled
	r.Error = ""
	if syncErr != nil {
		r.Error = syncErr.Error()
	} else {
		r.LastSuccess = time.Now()
	}

	if err := s.book.PutReport(peer, r); err != nil {
		s.logger.Debugf("syncer: put report %s: %v", peer, err)
		s.logger.Errorf("syncer: could not store report for %s", peer)
	}
}

// Close stops the background worker, cancelling a running round.
func (s *Service) Close() error {
	s.logger.Info("syncer shutting down")
	s.closeOnce.Do(func() { close(s.quit) })

	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.workerQuitC:
	case <-time.After(closeTimeout):
		return errors.New("syncer: worker did not stop in time")
	}
	return nil
}

// newLimiter allows one event immediately and then one per delay.
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
