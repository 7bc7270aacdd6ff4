// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"resenje.org/web"

	"github.com/openherd/relay/pkg/jsonhttp"
	"github.com/openherd/relay/pkg/logging/httpaccess"
)

func (s *server) setupRouting() {
	handle := func(router *mux.Router, path, method string, handler http.Handler) {
		router.Handle(path, handler).Methods(method)
		router.Handle(ProtocolPrefix+path, handler).Methods(method)
	}

	router := mux.NewRouter()
	if s.DisableInfoPage {
		router.NotFoundHandler = http.HandlerFunc(jsonhttp.NotFoundHandler)
		router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			jsonhttp.MethodNotAllowed(w, nil)
		})
	} else {
		router.NotFoundHandler = http.HandlerFunc(s.infoHandler)
		router.MethodNotAllowedHandler = http.HandlerFunc(s.infoHandler)
	}

	handle(router, "/outbox", http.MethodGet, http.HandlerFunc(s.outboxHandler))

	handle(router, "/inbox", http.MethodPost, web.ChainHandlers(
		jsonhttp.NewMaxBodyBytesHandler(s.MaxInboxSize),
		web.FinalHandlerFunc(s.inboxHandler),
	))

	s.Handler = web.ChainHandlers(
		httpaccess.NewHTTPAccessLogHandler(s.logger, logrus.InfoLevel, "api access"),
		s.Tracer.NewHTTPHandler,
		handlers.CompressHandler,
		s.pageviewMetricsHandler,
		s.responseCodeMetricsHandler,
		web.FinalHandler(router),
	)
}
