// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/openherd/relay/pkg/jsonhttp"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/tracing"
)

type inboxResponse struct {
	OK bool `json:"ok"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// inboxHandler stores every valid post of the json array in the request
// body. The whole body is read and decoded before anything is saved, so a
// rejected request never changes the store. Elements that are not valid
// posts, or that fail to be saved, are skipped.
func (s *server) inboxHandler(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		if err := s.limiter.Allow(clientKey(r), 1); err != nil {
			s.metrics.InboxRateLimited.Inc()
			s.logger.Debugf("api: inbox %s: %v", r.RemoteAddr, err)
			jsonhttp.TooManyRequests(w, errorResponse{Error: "too many requests"})
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return
		}
		s.logger.Debugf("api: inbox read body: %v", err)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			s.badRequest(w, "content length mismatch")
			return
		}
		s.badRequest(w, "read request body")
		return
	}

	if b := bytes.TrimLeft(body, " \t\r\n"); len(b) == 0 || b[0] != '[' {
		s.badRequest(w, "expected a json array")
		return
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(body, &elements); err != nil {
		s.logger.Debugf("api: inbox decode: %v", err)
		s.badRequest(w, "invalid json array")
		return
	}

	ctx := r.Context()
	logger := tracing.NewLoggerWithTraceID(ctx, s.logger)
	for i, raw := range elements {
		p, err := post.Parse(raw)
		if err != nil {
			s.metrics.InboxRejectedPosts.Inc()
			logger.Debugf("api: inbox element %d: %v", i, err)
			continue
		}
		if err := s.store.Save(ctx, p); err != nil {
			s.metrics.InboxRejectedPosts.Inc()
			logger.Debugf("api: inbox save post %s: %v", p.ID, err)
			logger.Errorf("api: inbox save post %s", p.ID)
			continue
		}
		s.metrics.InboxPosts.Inc()
	}

	jsonhttp.OK(w, inboxResponse{OK: true})
}

func (s *server) badRequest(w http.ResponseWriter, msg string) {
	s.metrics.InboxBadRequests.Inc()
	jsonhttp.BadRequest(w, errorResponse{Error: msg})
}

// clientKey identifies the remote host of the request.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
