// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bufio"
	"net/http"
	"strconv"

	"github.com/openherd/relay/pkg/jsonhttp"
	"github.com/openherd/relay/pkg/post"
)

// outboxHandler streams a window of stored posts as a json array. Posts are
// written one at a time so that the response never holds the whole page.
func (s *server) outboxHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := queryInt(query.Get("limit"), DefaultOutboxLimit)
	offset := queryInt(query.Get("offset"), 0)

	w.Header().Set("Content-Type", jsonhttp.DefaultContentTypeHeader)
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString("[")

	var count int
	err := s.store.Iterate(offset, limit, func(p post.Post) (bool, error) {
		if count > 0 {
			if err := bw.WriteByte(','); err != nil {
				return true, err
			}
		}
		if _, err := bw.Write(p.Data); err != nil {
			return true, err
		}
		count++
		return false, nil
	})
	if err != nil {
		s.logger.Debugf("api: outbox offset %d limit %d: %v", offset, limit, err)
		s.logger.Error("api: outbox iteration failed")
	}

	_, _ = bw.WriteString("]\n")
	if err := bw.Flush(); err != nil {
		s.logger.Debugf("api: outbox write: %v", err)
		return
	}
	s.metrics.OutboxPosts.Add(float64(count))
}

// queryInt parses a non-negative integer query value, returning def for
// missing, malformed or negative values.
func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
