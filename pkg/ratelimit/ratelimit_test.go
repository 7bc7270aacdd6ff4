// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ratelimit_test

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/openherd/relay/pkg/ratelimit"
)

func TestRateLimit(t *testing.T) {
	t.Parallel()

	var (
		key1  = "test1"
		key2  = "test2"
		rate  = time.Second
		burst = 10
	)

	now := time.Unix(1700000000, 0)
	limiter := ratelimit.New(rate, burst)
	limiter.SetTimeFunc(func() time.Time { return now })

	if err := limiter.Allow(key1, burst); err != nil {
		t.Fatal(err)
	}

	if err := limiter.Allow(key1, 1); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, ratelimit.ErrRateLimitExceeded)
	}

	now = now.Add(rate)
	if err := limiter.Allow(key1, 1); err != nil {
		t.Fatalf("token not refilled: %v", err)
	}

	limiter.Clear(key1)

	if err := limiter.Allow(key1, burst); err != nil {
		t.Fatal(err)
	}

	if err := limiter.Allow(key2, burst); err != nil {
		t.Fatal(err)
	}
}

func TestRateLimit_eviction(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	limiter := ratelimit.New(time.Hour, 1)
	limiter.SetTimeFunc(func() time.Time { return now })

	if err := limiter.Allow("first", 1); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < ratelimit.MaxKeys; i++ {
		if err := limiter.Allow(strconv.Itoa(i), 1); err != nil {
			t.Fatal(err)
		}
	}
	if got := limiter.Len(); got != ratelimit.MaxKeys {
		t.Fatalf("got %d keys, want %d", got, ratelimit.MaxKeys)
	}

	// a new key evicts the least recently used bucket
	if err := limiter.Allow("new", 1); err != nil {
		t.Fatal(err)
	}
	if got := limiter.Len(); got != ratelimit.MaxKeys {
		t.Fatalf("got %d keys, want %d", got, ratelimit.MaxKeys)
	}
	if err := limiter.Allow("first", 1); err != nil {
		t.Fatalf("evicted key is still limited: %v", err)
	}
	if err := limiter.Allow("new", 1); !errors.Is(err, ratelimit.ErrRateLimitExceeded) {
		t.Fatalf("got error %v, want %v", err, ratelimit.ErrRateLimitExceeded)
	}
}
