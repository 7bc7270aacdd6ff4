// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package exchange implements the client side of the relay exchange
// protocol: pushing posts to a peer inbox and pulling pages from a peer
// outbox.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	relay "github.com/openherd/relay"
	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/tracing"
	"resenje.org/web"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxResponseSize = 8 * 1024 * 1024

	inboxPath  = "/inbox"
	outboxPath = "/outbox"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrResponseTooLarge   = errors.New("response too large")
)

// PeerError is returned for every failed exchange with a peer.
type PeerError struct {
	Peer       string
	Op         string
	StatusCode int
	Err        error
}

func (e *PeerError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Peer, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
}

func (e *PeerError) Unwrap() error {
	return e.Err
}

// PullFunc is called for every valid post received from a peer outbox.
type PullFunc func(p post.Post) error

// Interface is the exchange protocol client.
type Interface interface {
	Push(ctx context.Context, peer string, posts []post.Post) error
	Pull(ctx context.Context, peer string, limit, offset int, fn PullFunc) (n int, err error)
}

type Options struct {
	// Timeout bounds a single request including reading the response.
	Timeout time.Duration
	// PathPrefix is inserted between the peer base URL and the endpoint
	// path, for example "/_openherd".
	PathPrefix string
	// MaxResponseSize bounds the number of bytes read from a response body.
	MaxResponseSize int64
	// Transport is used for requests when set.
	Transport http.RoundTripper
	// Tracer propagates the span context of a request to the peer.
	Tracer *tracing.Tracer
}

var _ Interface = (*Client)(nil)

type Client struct {
	client          *http.Client
	prefix          string
	maxResponseSize int64
	tracer          *tracing.Tracer
	logger          logging.Logger
	metrics         metrics
}

func New(logger logging.Logger, o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxResponseSize <= 0 {
		o.MaxResponseSize = DefaultMaxResponseSize
	}
	transport := o.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	userAgent := "relay/" + relay.Version

	return &Client{
		client: &http.Client{
			Timeout: o.Timeout,
			Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				r.Header.Set("User-Agent", userAgent)
				return transport.RoundTrip(r)
			}),
		},
		prefix:          "/" + strings.Trim(o.PathPrefix, "/"),
		maxResponseSize: o.MaxResponseSize,
		tracer:          o.Tracer,
		logger:          logger,
		metrics:         newMetrics(),
	}
}

// Push sends posts to the peer inbox. The peer must answer with a 2xx status
// and the {"ok":true} acknowledgement.
func (c *Client) Push(ctx context.Context, peer string, posts []post.Post) error {
	if posts == nil {
		posts = []post.Post{}
	}
	body, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("marshal posts: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(peer, inboxPath), bytes.NewReader(body))
	if err != nil {
		return &PeerError{Peer: peer, Op: "push", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.metrics.PushRequests.Inc()
	res, err := c.client.Do(req)
	if err != nil {
		c.metrics.PushFailures.Inc()
		return &PeerError{Peer: peer, Op: "push", Err: err}
	}
	defer drain(res.Body)

	if err := c.checkAck(res); err != nil {
		c.metrics.PushFailures.Inc()
		return &PeerError{Peer: peer, Op: "push", StatusCode: res.StatusCode, Err: err}
	}
	c.metrics.PushedPosts.Add(float64(len(posts)))
	return nil
}

func (c *Client) checkAck(res *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, strings.TrimSpace(string(data)))
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &ack); err != nil || !ack.OK {
		return fmt.Errorf("%w: missing acknowledgement", ErrUnexpectedResponse)
	}
	return nil
}

// Pull requests one outbox page from the peer and calls fn for every post
// in it. The returned n is the number of array elements received, including
// elements that were skipped because they are not valid posts.
func (c *Client) Pull(ctx context.Context, peer string, limit, offset int, fn PullFunc) (n int, err error) {
	u := c.endpoint(peer, outboxPath) + "?" + url.Values{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, &PeerError{Peer: peer, Op: "pull", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	c.metrics.PullRequests.Inc()
	defer func() {
		if err != nil {
			c.metrics.PullFailures.Inc()
		}
	}()

	res, err := c.client.Do(req)
	if err != nil {
		return 0, &PeerError{Peer: peer, Op: "pull", Err: err}
	}
	defer drain(res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, &PeerError{Peer: peer, Op: "pull", StatusCode: res.StatusCode, Err: ErrUnexpectedResponse}
	}

	n, err = c.decodePage(res.Body, func(raw json.RawMessage) error {
		p, err := post.Parse(raw)
		if err != nil {
			c.metrics.InvalidPosts.Inc()
			c.logger.Debugf("exchange: skip post from %s: %v", peer, err)
			return nil
		}
		c.metrics.PulledPosts.Inc()
		return fn(p)
	})
	if err != nil {
		var pe *PeerError
		if errors.As(err, &pe) {
			return n, err
		}
		return n, &PeerError{Peer: peer, Op: "pull", StatusCode: res.StatusCode, Err: err}
	}
	return n, nil
}

// decodePage reads a JSON array one element at a time.
func (c *Client) decodePage(r io.Reader, fn func(json.RawMessage) error) (n int, err error) {
	dec := json.NewDecoder(&limitedReader{r: r, n: c.maxResponseSize})

	t, err := dec.Token()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if d, ok := t.(json.Delim); !ok || d != '[' {
		return 0, fmt.Errorf("%w: not a json array", ErrUnexpectedResponse)
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, ErrResponseTooLarge) {
				return n, err
			}
			return n, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
		}
		n++
		if err := fn(raw); err != nil {
			return n, err
		}
	}

	if _, err := dec.Token(); err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return n, err
		}
		return n, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return n, nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if err := c.tracer.AddContextHTTPHeader(ctx, req.Header); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		c.logger.Debugf("exchange: add tracing header: %v", err)
	}
	return req, nil
}

func (c *Client) endpoint(peer, path string) string {
	return strings.TrimRight(peer, "/") + strings.TrimRight(c.prefix, "/") + path
}

// limitedReader returns ErrResponseTooLarge once more than n bytes are read.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		var probe [1]byte
		if n, err := l.r.Read(probe[:]); n == 0 {
			return 0, err
		}
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

func drain(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	_ = r.Close()
}
