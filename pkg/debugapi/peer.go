// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/openherd/relay/pkg/addressbook"
	"github.com/openherd/relay/pkg/jsonhttp"
)

type peersResponse struct {
	Peers []addressbook.Entry `json:"peers"`
}

func (s *Service) peersHandler(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.peers.Entries()
	if err != nil {
		s.logger.Debugf("debug api: peers: %v", err)
		s.logger.Error("debug api: peers")
		jsonhttp.InternalServerError(w, err)
		return
	}
	jsonhttp.OK(w, peersResponse{
		Peers: entries,
	})
}
