// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/openherd/relay/pkg/jsonhttp"
)

type postsCountResponse struct {
	Count int `json:"count"`
}

func (s *Service) postsHandler(w http.ResponseWriter, _ *http.Request) {
	n, err := s.store.Count()
	if err != nil {
		s.logger.Debugf("debug api: posts count: %v", err)
		s.logger.Error("debug api: posts count")
		jsonhttp.InternalServerError(w, err)
		return
	}
	jsonhttp.OK(w, postsCountResponse{
		Count: n,
	})
}
