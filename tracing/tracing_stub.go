//go:build !oteltracing

// Package tracing offers optional distributed tracing around the daemon's
// RPC surface and frame lifecycle, built only under the oteltracing tag.
/*
 * Copyright (c) 2018-2026, OpenCue Contributors. All rights reserved.
 */
package tracing

import (
	"context"
	"net/http"

	"github.com/opencue/rqd/cmn"
)

// Init is a no-op in the default build; IsEnabled always reports false.
func Init(*cmn.TracingConf, string, string) error { return nil }

func IsEnabled() bool { return false }

func Shutdown() {}

func ForceFlush() {}

// NewTraceableHandler returns h unchanged.
func NewTraceableHandler(h http.Handler, _ string) http.Handler { return h }

// NewTraceableClient returns c unchanged.
func NewTraceableClient(c *http.Client) *http.Client { return c }

// StartFrameSpan returns ctx unchanged and a no-op end func.
func StartFrameSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}
