// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonhttp_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openherd/relay/pkg/jsonhttp"
)

func TestRespond_defaults(t *testing.T) {
	w := httptest.NewRecorder()

	jsonhttp.Respond(w, 0, nil)

	statusCode := w.Result().StatusCode
	wantCode := http.StatusOK
	if statusCode != wantCode {
		t.Errorf("got status code %d, want %d", statusCode, wantCode)
	}

	var m *jsonhttp.StatusResponse

	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Errorf("json unmarshal response body: %s", err)
	}

	if m.Code != wantCode {
		t.Errorf("got message code %d, want %d", m.Code, wantCode)
	}

	wantMessage := http.StatusText(wantCode)
	if m.Message != wantMessage {
		t.Errorf("got message message %q, want %q", m.Message, wantMessage)
	}

	testContentType(t, w)
}

func TestRespond_statusResponse(t *testing.T) {
	for _, tc := range []struct {
		name    string
		code    int
		message any
		want    string
	}{
		{name: "string", code: http.StatusBadRequest, message: "bad body", want: "bad body"},
		{name: "error", code: http.StatusInternalServerError, message: errors.New("boom"), want: "boom"},
		{name: "nil", code: http.StatusNotFound, want: http.StatusText(http.StatusNotFound)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			jsonhttp.Respond(w, tc.code, tc.message)

			if got := w.Result().StatusCode; got != tc.code {
				t.Errorf("got status code %d, want %d", got, tc.code)
			}

			var m jsonhttp.StatusResponse
			if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
				t.Fatalf("json unmarshal response body: %s", err)
			}
			if m.Code != tc.code {
				t.Errorf("got message code %d, want %d", m.Code, tc.code)
			}
			if m.Message != tc.want {
				t.Errorf("got message %q, want %q", m.Message, tc.want)
			}
		})
	}
}

func TestRespond_custom(t *testing.T) {
	w := httptest.NewRecorder()

	type response struct {
		OK bool `json:"ok"`
	}
	jsonhttp.Respond(w, http.StatusOK, response{OK: true})

	if got, want := w.Body.String(), "{\"ok\":true}\n\n"; got != want {
		t.Errorf("got response %q, want %q", got, want)
	}

	testContentType(t, w)
}

func TestRespond_noEscapeHTML(t *testing.T) {
	w := httptest.NewRecorder()

	jsonhttp.OK(w, map[string]string{"text": "<b>&</b>"})

	if got, want := w.Body.String(), "{\"text\":\"<b>&</b>\"}\n\n"; got != want {
		t.Errorf("got response %q, want %q", got, want)
	}
}

func testContentType(t *testing.T, r *httptest.ResponseRecorder) {
	t.Helper()

	if got := r.Header().Get("Content-Type"); got != jsonhttp.DefaultContentTypeHeader {
		t.Errorf("got content type %q, want %q", got, jsonhttp.DefaultContentTypeHeader)
	}
}
