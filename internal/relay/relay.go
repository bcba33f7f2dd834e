// Package relay forwards community reports and chat messages to external
// automation webhooks and interprets their loosely shaped replies.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/city-pulse/internal/observability"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("webhook not configured")

// maxBody caps how much of a webhook reply is read.
const maxBody = 1 << 20

// StatusError is returned for non-2xx webhook replies.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

type webhook struct {
	name       string
	url        string
	httpClient *http.Client
	metrics    *observability.Metrics
}

func newWebhook(name, url string, timeout time.Duration, metrics *observability.Metrics) webhook {
	return webhook{
		name:       name,
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}
}

func (w webhook) configured() bool { return w.url != "" }

// post sends payload as JSON and returns the reply body of a 2xx response.
func (w webhook) post(ctx context.Context, payload any) ([]byte, error) {
	if !w.configured() {
		return nil, ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.count("error")
		return nil, fmt.Errorf("%s webhook request: %w", w.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		w.count("error")
		return nil, fmt.Errorf("read %s webhook reply: %w", w.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.count("status")
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	w.count("ok")
	return body, nil
}

func (w webhook) count(outcome string) {
	if w.metrics != nil {
		w.metrics.RelayRequests.WithLabelValues(w.name, outcome).Inc()
	}
}

// replyText picks the first non-empty field among paths from a JSON reply.
// A body that is itself a JSON string yields that string. ok is false for
// non-JSON bodies and when no path matched.
func replyText(body []byte, paths []string) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.String {
		return root.String(), true
	}
	for _, p := range paths {
		if v := root.Get(p); v.Exists() && v.Type != gjson.Null {
			if s := v.String(); s != "" {
				return s, true
			}
		}
	}
	return "", false
}
