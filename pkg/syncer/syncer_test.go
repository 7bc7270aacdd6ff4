// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package syncer_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/api"
	"github.com/openherd/relay/pkg/exchange"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/statestore/mock"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/storage/leveldbstore"
	"github.com/openherd/relay/pkg/storage/storetest"
	"github.com/openherd/relay/pkg/syncer"
)

var logger = logging.New(io.Discard, 0)

func newStore(t *testing.T) storage.Store {
	t.Helper()

	s, err := leveldbstore.NewInMemoryStore(logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBook(t *testing.T, peers ...string) *addressbook.Book {
	t.Helper()

	b, err := addressbook.New(peers, mock.NewStateStore())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// newPeer starts a relay api over its own store.
func newPeer(t *testing.T) (string, storage.Store) {
	t.Helper()

	store := newStore(t)
	srv := httptest.NewServer(api.New(store, logger, api.Options{}))
	t.Cleanup(srv.Close)
	return srv.URL, store
}

func TestSyncRoundPartialFailure(t *testing.T) {
	t.Parallel()

	local := newStore(t)
	localPosts := []post.Post{
		post.MustParse(`{"id":"local-1","text":"from local"}`),
		post.MustParse(`{"text":"anonymous local"}`),
	}
	storetest.Save(t, local, localPosts...)

	reachable, remote := newPeer(t)
	remotePosts := []post.Post{
		post.MustParse(`{"id":"remote-1","text":"one"}`),
		post.MustParse(`{"id":"remote-2","text":"two"}`),
		post.MustParse(`{"id":"remote-3","text":"three"}`),
	}
	storetest.Save(t, remote, remotePosts...)

	down := httptest.NewServer(nil)
	unreachable := down.URL
	down.Close()

	book := newBook(t, unreachable, reachable)
	client := exchange.New(logger, exchange.Options{Timeout: 5 * time.Second})
	s := syncer.New(local, book, client, logger, syncer.Options{PageSize: 2})

	got := s.SyncRound(context.Background())
	want := syncer.RoundResult{Peers: 2, Synced: 1, Pushed: 2, Pulled: 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round result mismatch (-want +got):\n%s", diff)
	}

	all := make(map[string]string)
	for _, p := range append(localPosts, remotePosts...) {
		all[p.ID] = string(p.Data)
	}
	if diff := cmp.Diff(all, storetest.All(t, local)); diff != "" {
		t.Errorf("local store mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(all, storetest.All(t, remote)); diff != "" {
		t.Errorf("remote store mismatch (-want +got):\n%s", diff)
	}

	r, err := book.Report(unreachable)
	if err != nil {
		t.Fatal(err)
	}
	if r.Error == "" || !r.LastSuccess.IsZero() || r.LastAttempt.IsZero() {
		t.Errorf("unexpected report for unreachable peer: %+v", r)
	}

	r, err = book.Report(reachable)
	if err != nil {
		t.Fatal(err)
	}
	if r.Error != "" || r.LastSuccess.IsZero() || r.Pushed != 2 || r.Pulled != 5 {
		t.Errorf("unexpected report for reachable peer: %+v", r)
	}

	if got := s.Status().Rounds; got != 1 {
		t.Errorf("got %d rounds, want 1", got)
	}
}

func TestPushBatches(t *testing.T) {
	t.Parallel()

	local := newStore(t)
	storetest.Save(t, local, storetest.Posts(5)...)

	ex := newMockExchanger()
	s := syncer.New(local, newBook(t, "http://peer"), ex, logger, syncer.Options{BatchSize: 2})

	res := s.SyncRound(context.Background())
	if res.Pushed != 5 || res.Synced != 1 {
		t.Fatalf("unexpected round result %+v", res)
	}

	if diff := cmp.Diff([]int{2, 2, 1}, ex.batchSizes("http://peer")); diff != "" {
		t.Fatalf("batch sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestPushErrorSkipsPeer(t *testing.T) {
	t.Parallel()

	local := newStore(t)
	storetest.Save(t, local, storetest.Posts(3)...)

	ex := newMockExchanger()
	ex.pushErr["http://failing"] = errors.New("connection refused")
	ex.outbox["http://ok"] = storetest.Posts(4)[3:]

	book := newBook(t, "http://failing", "http://ok")
	s := syncer.New(local, book, ex, logger, syncer.Options{BatchSize: 2})

	res := s.SyncRound(context.Background())
	want := syncer.RoundResult{Peers: 2, Synced: 1, Pushed: 3, Pulled: 1}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("round result mismatch (-want +got):\n%s", diff)
	}
	if got := ex.pullCount("http://failing"); got != 0 {
		t.Errorf("got %d pulls from failing peer, want 0", got)
	}
	if n, err := local.Count(); err != nil || n != 4 {
		t.Errorf("got count %d error %v, want 4", n, err)
	}
}

func TestPullPaging(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name      string
		outbox    int
		pageSize  int
		maxPages  int
		oversized bool
		wantPulls int
		wantSaved int
	}{
		{name: "empty", outbox: 0, pageSize: 3, wantPulls: 1, wantSaved: 0},
		{name: "short last page", outbox: 7, pageSize: 3, wantPulls: 3, wantSaved: 7},
		{name: "exact pages", outbox: 6, pageSize: 3, wantPulls: 3, wantSaved: 6},
		{name: "max pages", outbox: 20, pageSize: 3, maxPages: 2, wantPulls: 2, wantSaved: 6},
		{name: "ignored pagination", outbox: 8, pageSize: 3, oversized: true, wantPulls: 1, wantSaved: 8},
		{name: "ignored pagination, exact page", outbox: 3, pageSize: 3, oversized: true, wantPulls: 2, wantSaved: 3},
		{name: "ignored pagination, exact page, many pages", outbox: 3, pageSize: 3, maxPages: 1000, oversized: true, wantPulls: 2, wantSaved: 3},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			local := newStore(t)
			ex := newMockExchanger()
			ex.outbox["http://peer"] = storetest.Posts(tc.outbox)
			ex.ignorePagination = tc.oversized

			s := syncer.New(local, newBook(t, "http://peer"), ex, logger, syncer.Options{
				PageSize: tc.pageSize,
				MaxPages: tc.maxPages,
			})

			res := s.SyncRound(context.Background())
			if res.Pulled != tc.wantSaved {
				t.Errorf("got %d pulled, want %d", res.Pulled, tc.wantSaved)
			}
			if got := ex.pullCount("http://peer"); got != tc.wantPulls {
				t.Errorf("got %d pulls, want %d", got, tc.wantPulls)
			}
			if n, err := local.Count(); err != nil || n != tc.wantSaved {
				t.Errorf("got count %d error %v, want %d", n, err, tc.wantSaved)
			}
		})
	}
}

func TestPullErrorRecordedInReport(t *testing.T) {
	t.Parallel()

	ex := newMockExchanger()
	ex.pullErr["http://peer"] = &exchange.PeerError{Peer: "http://peer", Op: "pull", StatusCode: 500, Err: exchange.ErrUnexpectedResponse}

	book := newBook(t, "http://peer")
	s := syncer.New(newStore(t), book, ex, logger, syncer.Options{})

	if res := s.SyncRound(context.Background()); res.Synced != 0 {
		t.Fatalf("got %d synced peers, want 0", res.Synced)
	}

	r, err := book.Report("http://peer")
	if err != nil {
		t.Fatal(err)
	}
	if r.Error == "" {
		t.Fatal("expected error in report")
	}
}

func TestBatchDelay(t *testing.T) {
	t.Parallel()

	local := newStore(t)
	storetest.Save(t, local, storetest.Posts(3)...)

	delay := 30 * time.Millisecond
	s := syncer.New(local, newBook(t, "http://peer"), newMockExchanger(), logger, syncer.Options{
		BatchDelay: delay,
	})

	start := time.Now()
	s.SyncRound(context.Background())
	if elapsed := time.Since(start); elapsed < 2*delay {
		t.Fatalf("round took %v, want at least %v", elapsed, 2*delay)
	}
}

func TestLimiter(t *testing.T) {
	t.Parallel()

	l := syncer.NewLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("zero delay limiter must always allow")
		}
	}

	l = syncer.NewLimiter(time.Hour)
	if !l.Allow() {
		t.Fatal("first event must be allowed")
	}
	if l.Allow() {
		t.Fatal("second event must wait")
	}
}

func TestStartTriggerClose(t *testing.T) {
	t.Parallel()

	ex := newMockExchanger()
	s := syncer.New(newStore(t), newBook(t, "http://peer"), ex, logger, syncer.Options{
		Interval: time.Hour,
	})
	s.Start()

	waitRounds(t, s, 1)

	s.Trigger()
	waitRounds(t, s, 2)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Status().Running {
		t.Fatal("syncer still running after close")
	}
}

func TestCloseBeforeWarmup(t *testing.T) {
	t.Parallel()

	s := syncer.New(newStore(t), newBook(t), newMockExchanger(), logger, syncer.Options{
		WarmupTime: time.Hour,
	})
	s.Start()

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("close timed out")
	}
	if got := s.Status().Rounds; got != 0 {
		t.Fatalf("got %d rounds, want 0", got)
	}
}

func waitRounds(t *testing.T, s *syncer.Service, n uint64) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for s.Status().Rounds < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d rounds, got %d", n, s.Status().Rounds)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type mockExchanger struct {
	mu               sync.Mutex
	pushes           map[string][][]post.Post
	pulls            map[string]int
	outbox           map[string][]post.Post
	pushErr          map[string]error
	pullErr          map[string]error
	ignorePagination bool
}

func newMockExchanger() *mockExchanger {
	return &mockExchanger{
		pushes:  make(map[string][][]post.Post),
		pulls:   make(map[string]int),
		outbox:  make(map[string][]post.Post),
		pushErr: make(map[string]error),
		pullErr: make(map[string]error),
	}
}

func (m *mockExchanger) Push(_ context.Context, peer string, posts []post.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.pushErr[peer]; err != nil {
		return err
	}
	m.pushes[peer] = append(m.pushes[peer], append([]post.Post(nil), posts...))
	return nil
}

func (m *mockExchanger) Pull(_ context.Context, peer string, limit, offset int, fn exchange.PullFunc) (int, error) {
	m.mu.Lock()
	m.pulls[peer]++
	err := m.pullErr[peer]
	page := m.outbox[peer]
	m.mu.Unlock()

	if err != nil {
		return 0, err
	}

	if !m.ignorePagination {
		if offset > len(page) {
			offset = len(page)
		}
		page = page[offset:]
		if len(page) > limit {
			page = page[:limit]
		}
	}
	for _, p := range page {
		if err := fn(p); err != nil {
			return 0, err
		}
	}
	return len(page), nil
}

func (m *mockExchanger) batchSizes(peer string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sizes []int
	for _, b := range m.pushes[peer] {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (m *mockExchanger) pullCount(peer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pulls[peer]
}
