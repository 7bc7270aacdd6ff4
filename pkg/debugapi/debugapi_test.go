// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/debugapi"
	"github.com/openherd/relay/pkg/jsonhttp"
	"github.com/openherd/relay/pkg/jsonhttp/jsonhttptest"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/statestore/mock"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/storage/leveldbstore"
	"github.com/openherd/relay/pkg/storage/storetest"
	"github.com/openherd/relay/pkg/syncer"
	"go.uber.org/atomic"
)

type testServerOptions struct {
	Peers []string
}

type testServer struct {
	Client  *http.Client
	URL     string
	Service *debugapi.Service
	Store   storage.Store
	Book    *addressbook.Book
	Syncer  *mockSyncer
}

func newTestServer(t *testing.T, o testServerOptions) *testServer {
	t.Helper()

	logger := logging.New(io.Discard, 0)

	store, err := leveldbstore.NewInMemoryStore(logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	book, err := addressbook.New(o.Peers, mock.NewStateStore())
	if err != nil {
		t.Fatal(err)
	}

	ms := &mockSyncer{triggers: atomic.NewInt32(0)}

	s := debugapi.New(logger)
	s.Configure(store, book, ms)

	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &testServer{
		Client:  ts.Client(),
		URL:     ts.URL,
		Service: s,
		Store:   store,
		Book:    book,
		Syncer:  ms,
	}
}

type mockSyncer struct {
	triggers *atomic.Int32
}

func (m *mockSyncer) Trigger() {
	m.triggers.Inc()
}

func (m *mockSyncer) Status() syncer.Status {
	return syncer.Status{
		Rounds:    3,
		LastRound: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestBasicRouter(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(debugapi.New(logging.New(io.Discard, 0)))
	defer ts.Close()

	jsonhttptest.Request(t, ts.Client(), http.MethodGet, ts.URL+"/health", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(map[string]string{"status": "ok"}),
	)

	// readiness is only available after the service is configured
	jsonhttptest.Request(t, ts.Client(), http.MethodGet, ts.URL+"/readiness", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: http.StatusText(http.StatusNotFound),
			Code:    http.StatusNotFound,
		}),
	)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testServerOptions{})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/readiness", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(map[string]string{"status": "ok"}),
	)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testServerOptions{})

	var body []byte
	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/metrics", http.StatusOK,
		jsonhttptest.WithPutResponseBody(&body),
	)
	if !strings.Contains(string(body), "relay_info") {
		t.Fatalf("metrics response does not contain relay_info")
	}
}

func TestPosts(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testServerOptions{})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/posts", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(map[string]int{"count": 0}),
	)

	storetest.Save(t, ts.Store, storetest.Posts(3)...)

	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/posts", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(map[string]int{"count": 3}),
	)
}

func TestPeers(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testServerOptions{
		Peers: []string{"https://a.example.org", "https://b.example.org"},
	})

	report := addressbook.Report{
		LastAttempt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Error:       "push: connection refused",
	}
	if err := ts.Book.PutReport("https://b.example.org", report); err != nil {
		t.Fatal(err)
	}

	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/peers", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(struct {
			Peers []addressbook.Entry `json:"peers"`
		}{
			Peers: []addressbook.Entry{
				{Address: "https://a.example.org"},
				{Address: "https://b.example.org", Report: &report},
			},
		}),
	)
}

func TestSync(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, testServerOptions{})

	jsonhttptest.Request(t, ts.Client, http.MethodPost, ts.URL+"/sync", http.StatusAccepted,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: http.StatusText(http.StatusAccepted),
			Code:    http.StatusAccepted,
		}),
	)
	if got := ts.Syncer.triggers.Load(); got != 1 {
		t.Fatalf("got %d triggers, want 1", got)
	}

	jsonhttptest.Request(t, ts.Client, http.MethodGet, ts.URL+"/sync", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(ts.Syncer.Status()),
	)
}
