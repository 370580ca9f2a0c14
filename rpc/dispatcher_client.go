package rpc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/opencue/rqd/cmn/nlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPDispatcherClient posts JSON bodies to the dispatcher's report endpoints.
// It is the module's concrete stand-in for the production RPC transport
// (SPEC_FULL.md §6.1).
type HTTPDispatcherClient struct {
	BaseURL string
	HTTP    *http.Client
}

var _ DispatcherClient = (*HTTPDispatcherClient)(nil)

func NewHTTPDispatcherClient(baseURL string) *HTTPDispatcherClient {
	return &HTTPDispatcherClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *HTTPDispatcherClient) ReportStartup(ctx context.Context, r HostBootReport) error {
	return c.post(ctx, "/rqd/reportRqdStartup", r)
}

func (c *HTTPDispatcherClient) ReportStatus(ctx context.Context, r HostReport) error {
	return c.post(ctx, "/rqd/reportStatus", r)
}

func (c *HTTPDispatcherClient) ReportFrameCompletion(ctx context.Context, r CompletionReport) error {
	return c.post(ctx, "/rqd/reportRunningFrameCompletion", r)
}

func (c *HTTPDispatcherClient) post(ctx context.Context, path string, body any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rpc: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		nlog.Warningf("rpc: %s unreachable: %v", path, err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}
