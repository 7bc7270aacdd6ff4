// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tracing_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/tracing"
	"github.com/uber/jaeger-client-go"
)

func TestSpanFromHTTPHeaders(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	headers := make(http.Header)
	if err := tracer.AddContextHTTPHeader(ctx, headers); err != nil {
		t.Fatal(err)
	}
	if headers.Get(tracing.TraceContextHeaderName) == "" {
		t.Fatalf("header %q not set", tracing.TraceContextHeaderName)
	}

	gotSpanContext, err := tracer.FromHTTPHeaders(headers)
	if err != nil {
		t.Fatal(err)
	}

	wantSpanContext := span.Context()
	if fmt.Sprint(wantSpanContext) == "" {
		t.Fatal("got empty start span context")
	}

	if fmt.Sprint(gotSpanContext) != fmt.Sprint(wantSpanContext) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, wantSpanContext)
	}
}

func TestFromHTTPHeaders_notFound(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	if _, err := tracer.FromHTTPHeaders(make(http.Header)); !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}

	if err := tracer.AddContextHTTPHeader(context.Background(), make(http.Header)); !errors.Is(err, tracing.ErrContextNotFound) {
		t.Fatalf("got error %v, want %v", err, tracing.ErrContextNotFound)
	}
}

func TestNewHTTPHandler(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	var got string
	h := tracer.NewHTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = fmt.Sprint(tracing.FromContext(r.Context()))
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := tracer.AddContextHTTPHeader(ctx, r.Header); err != nil {
		t.Fatal(err)
	}
	h.ServeHTTP(httptest.NewRecorder(), r)

	if want := fmt.Sprint(span.Context()); got != want {
		t.Errorf("got span context %q, want %q", got, want)
	}
}

func TestFromContext(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	wantSpanContext := span.Context()
	gotSpanContext := tracing.FromContext(ctx)
	if fmt.Sprint(gotSpanContext) != fmt.Sprint(wantSpanContext) {
		t.Errorf("got span context %+v, want %+v", gotSpanContext, wantSpanContext)
	}

	if c := tracing.FromContext(context.Background()); c != nil {
		t.Errorf("got span context %+v, want nil", c)
	}
}

func TestStartSpanFromContext_child(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	parent, _, ctx := tracer.StartSpanFromContext(context.Background(), "parent", nil)
	defer parent.Finish()

	child, _, _ := tracer.StartSpanFromContext(ctx, "child", nil)
	defer child.Finish()

	got := child.Context().(jaeger.SpanContext)
	want := parent.Context().(jaeger.SpanContext)
	if got.TraceID() != want.TraceID() {
		t.Errorf("got trace id %v, want %v", got.TraceID(), want.TraceID())
	}
	if got.ParentID() != want.SpanID() {
		t.Errorf("got parent id %v, want %v", got.ParentID(), want.SpanID())
	}
}

func TestStartSpanFromContext_logger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, logger, _ := tracer.StartSpanFromContext(context.Background(), "some-operation", logging.New(io.Discard, 0))
	defer span.Finish()

	wantTraceID := span.Context().(jaeger.SpanContext).TraceID()

	v, ok := logger.Data[tracing.LogField]
	if !ok {
		t.Fatalf("log field %q not found", tracing.LogField)
	}
	if v != wantTraceID.String() {
		t.Errorf("got trace id %v, want %q", v, wantTraceID.String())
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *tracing.Tracer

	span, logger, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", logging.New(io.Discard, 0))
	defer span.Finish()

	if _, ok := logger.Data[tracing.LogField]; ok {
		t.Errorf("unexpected log field %q", tracing.LogField)
	}
	if err := tracer.AddContextHTTPHeader(ctx, make(http.Header)); err != nil {
		t.Fatal(err)
	}
}

func TestNewLoggerWithTraceID_nilLogger(t *testing.T) {
	tracer, closer := newTracer(t)
	defer closer.Close()

	span, _, ctx := tracer.StartSpanFromContext(context.Background(), "some-operation", nil)
	defer span.Finish()

	if logger := tracing.NewLoggerWithTraceID(ctx, nil); logger != nil {
		t.Error("logger is not nil")
	}
}

func newTracer(t *testing.T) (*tracing.Tracer, io.Closer) {
	t.Helper()

	tracer, closer, err := tracing.NewTracer(&tracing.Options{
		Enabled:     true,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	return tracer, closer
}
