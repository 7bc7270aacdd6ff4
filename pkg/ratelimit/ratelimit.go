// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ratelimit limits requests per string key, usually a client
// address. Every key has its own token bucket of size burst that refills one
// token per interval.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// maxKeys bounds the number of tracked keys. The least recently used
// bucket is forgotten first.
const maxKeys = 4096

type Limiter struct {
	mu      sync.Mutex
	limiter *lru.Cache
	rate    rate.Limit
	burst   int
	now     func() time.Time
}

// New returns a Limiter that refills one token per interval up to burst.
func New(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	cache, err := lru.New(maxKeys)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Limiter{
		limiter: cache,
		rate:    rate.Every(interval),
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes count tokens from the bucket of key.
func (l *Limiter) Allow(key string, count int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.limiter.Get(key); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiter.Add(key, limiter)
	}

	if !limiter.AllowN(l.now(), count) {
		return ErrRateLimitExceeded
	}
	return nil
}

// Clear deletes the bucket of key.
func (l *Limiter) Clear(key string) {
	l.limiter.Remove(key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.limiter.Len()
}
