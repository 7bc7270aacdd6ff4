// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	"github.com/openherd/relay/pkg/jsonhttp"
)

func (s *Service) syncStatusHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, s.syncer.Status())
}

func (s *Service) syncTriggerHandler(w http.ResponseWriter, _ *http.Request) {
	s.syncer.Trigger()
	jsonhttp.Accepted(w, nil)
}
