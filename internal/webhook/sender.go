// Package webhook posts a signed notification when a run finishes.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/metrics"
	"github.com/freema/desktop-assist/internal/stream"
)

// Header names set on every delivery.
const (
	HeaderSignature = "X-Signature-256"
	HeaderEvent     = "X-DesktopAssist-Event"
	HeaderTraceID   = "X-Trace-ID"
)

// Payload is the webhook request body.
type Payload struct {
	RunID       string          `json:"run_id"`
	SessionID   string          `json:"session_id"`
	SessionPath string          `json:"session_path,omitempty"`
	Status      string          `json:"status"`
	Prompt      string          `json:"prompt"`
	Result      string          `json:"result"`
	Steps       int             `json:"steps"`
	ElapsedS    float64         `json:"elapsed_s"`
	Usage       stream.RunUsage `json:"usage"`
	TraceID     string          `json:"trace_id,omitempty"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// PayloadFor builds the body for a finished run.
func PayloadFor(s agent.RunSummary) Payload {
	return Payload{
		RunID:       s.SessionID,
		SessionID:   s.SessionID,
		SessionPath: s.SessionPath,
		Status:      string(s.Outcome),
		Prompt:      s.Prompt,
		Result:      s.Result,
		Steps:       s.Steps,
		ElapsedS:    float64(s.Elapsed.Milliseconds()) / 1000,
		Usage:       s.Usage,
		TraceID:     s.TraceID,
		FinishedAt:  s.FinishedAt,
	}
}

// Sender delivers webhook callbacks with HMAC-SHA256 signatures.
type Sender struct {
	client     *http.Client
	url        string
	secret     string
	maxRetries int
	baseDelay  time.Duration
}

// NewSender creates a webhook sender for one callback URL.
func NewSender(url, secret string, maxRetries int, baseDelay time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		url:        url,
		secret:     secret,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Notify sends the run summary. It implements agent.Notifier.
func (s *Sender) Notify(ctx context.Context, summary agent.RunSummary) error {
	return s.Send(ctx, PayloadFor(summary))
}

// Send delivers payload with retries and exponential backoff.
func (s *Sender) Send(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	sig := Sign(s.secret, body)
	eventType := "run." + payload.Status

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(5, float64(attempt-1))) * s.baseDelay
			slog.Info("webhook retry", "attempt", attempt, "delay", delay, "url", s.url)

			select {
			case <-ctx.Done():
				metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, "sha256="+sig)
		req.Header.Set(HeaderEvent, eventType)
		if payload.TraceID != "" {
			req.Header.Set(HeaderTraceID, payload.TraceID)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Warn("webhook request failed", "attempt", attempt, "error", err, "url", s.url)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			slog.Info("webhook delivered", "url", s.url, "status", resp.StatusCode, "attempt", attempt)
			metrics.WebhookDeliveries.WithLabelValues("success").Inc()
			return nil
		}
		slog.Warn("webhook non-2xx response", "attempt", attempt, "status", resp.StatusCode, "url", s.url)
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	return fmt.Errorf("webhook delivery failed after %d attempts to %s", s.maxRetries+1, s.url)
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
