// Package executor provides the outbound adapters that perform a schedule's
// action and deliver outcome notifications.
//
// The HTTP variants POST JSON to configured endpoints with automatic retries;
// the log variants are stand-ins for deployments that have not wired a
// downstream yet.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"schedengine/internal/dispatcher"
	"schedengine/internal/models"
)

// DefaultRequestTimeout bounds one executor call including retries. It must
// stay well under the dispatcher's lock TTL so a slow downstream cannot
// outlive the claim fence.
const DefaultRequestTimeout = 30 * time.Second

// Compile-time interface checks.
var (
	_ dispatcher.Executor = (*HTTPExecutor)(nil)
	_ dispatcher.Notifier = (*HTTPNotifier)(nil)
	_ dispatcher.Executor = (*LogExecutor)(nil)
	_ dispatcher.Notifier = (*LogNotifier)(nil)
)

// newClient builds a retrying HTTP client with logging routed through slog.
func newClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.HTTPClient.Timeout = DefaultRequestTimeout
	client.Logger = nil
	return client
}

// postJSON sends body to url and fails on any non-2xx response.
func postJSON(ctx context.Context, client *retryablehttp.Client, url string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint %s returned status %d", url, resp.StatusCode)
	}
	return nil
}

// HTTPExecutor delivers execute requests to an external endpoint. The
// endpoint is expected to deduplicate on (record_id, run_count).
type HTTPExecutor struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPExecutor creates an executor posting to the given URL.
func NewHTTPExecutor(url string) *HTTPExecutor {
	return &HTTPExecutor{url: url, client: newClient()}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req models.ExecuteRequest) error {
	slog.Debug("HTTPExecutor.Execute: posting", "url", e.url, "recordID", req.RecordID, "runCount", req.RunCount)
	if err := postJSON(ctx, e.client, e.url, req); err != nil {
		return fmt.Errorf("execute %s run %d: %w", req.RecordID, req.RunCount, err)
	}
	return nil
}

// HTTPNotifier delivers outcome notifications to an external endpoint.
type HTTPNotifier struct {
	url    string
	client *retryablehttp.Client
}

// NewHTTPNotifier creates a notifier posting to the given URL.
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{url: url, client: newClient()}
}

func (n *HTTPNotifier) Notify(ctx context.Context, event models.NotificationEvent) error {
	slog.Debug("HTTPNotifier.Notify: posting", "url", n.url, "recordID", event.RecordID, "outcome", event.Outcome)
	if err := postJSON(ctx, n.client, n.url, event); err != nil {
		return fmt.Errorf("notify %s: %w", event.RecordID, err)
	}
	return nil
}

// LogExecutor records execute requests to the log instead of performing them.
type LogExecutor struct{}

func (LogExecutor) Execute(_ context.Context, req models.ExecuteRequest) error {
	slog.Info("LogExecutor.Execute", "recordID", req.RecordID, "runCount", req.RunCount, "kind", req.Action.Kind)
	return nil
}

// LogNotifier records notification events to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event models.NotificationEvent) error {
	slog.Info("LogNotifier.Notify", "recordID", event.RecordID, "outcome", event.Outcome, "detail", event.Detail)
	return nil
}
