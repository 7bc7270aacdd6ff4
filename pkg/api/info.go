// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"

	relay "github.com/openherd/relay"
)

func (s *server) infoHandler(w http.ResponseWriter, r *http.Request) {
	s.metrics.InfoPageViews.Inc()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	fmt.Fprintln(w, "OpenHerd Relay")
	fmt.Fprintf(w, "nickname: %s\n", s.Identity.Nickname)
	fmt.Fprintf(w, "operator: %s\n", s.Identity.Operator)
	fmt.Fprintf(w, "device: %s\n", s.Identity.Device)
	fmt.Fprintf(w, "instance: %s\n", s.instanceID)
	fmt.Fprintf(w, "version: %s\n", relay.Version)
}
