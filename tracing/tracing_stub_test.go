//go:build !oteltracing

package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencue/rqd/cmn"
)

func TestStubIsDisabledByDefault(t *testing.T) {
	assert.False(t, IsEnabled())
	assert.NoError(t, Init(&cmn.TracingConf{Enabled: true, ExporterEndpoint: "dummy"}, "render-test", "v0.0.0"))
	assert.False(t, IsEnabled())
}

func TestStubWrappersPassThrough(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	wrapped := NewTraceableHandler(h, "launchFrame")

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	client := NewTraceableClient(http.DefaultClient)
	assert.Same(t, http.DefaultClient, client)

	ctx, end := StartFrameSpan(context.Background(), "frame-1")
	assert.NotNil(t, ctx)
	end()
}
