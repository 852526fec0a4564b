package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/attestary/attestary/internal/archive"
)

// Webhook posts signed alert events to a configured endpoint. The
// endpoint and its HMAC secret come from configuration, not from a
// subscription store: an archive has a fixed set of operator sinks.
type Webhook struct {
	url        string
	secret     string
	httpClient *http.Client
	// delays is one entry per delivery attempt; the first entry is the
	// wait before the initial attempt.
	delays    []time.Duration
	onMetrics func(success bool) // nil = no metrics
	logger    *zap.Logger
}

// NewWebhook creates a Webhook delivering to url, signing payloads
// with secret.
func NewWebhook(url, secret string, logger *zap.Logger) *Webhook {
	return &Webhook{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		delays:     []time.Duration{0, 1 * time.Second, 5 * time.Second, 25 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures a callback recording each delivery
// attempt's outcome.
func (w *Webhook) SetMetricsRecorder(fn func(success bool)) {
	w.onMetrics = fn
}

// SetRetryDelays replaces the per-attempt delay schedule.
func (w *Webhook) SetRetryDelays(delays []time.Duration) {
	if len(delays) > 0 {
		w.delays = delays
	}
}

// NotifyFault implements Notifier.
func (w *Webhook) NotifyFault(ctx context.Context, f archive.Fault) {
	w.dispatch(ctx, Event{Type: EventRecordFault, Timestamp: time.Now().UTC(), Fault: &f})
}

// NotifyAgentStatus implements Notifier.
func (w *Webhook) NotifyAgentStatus(ctx context.Context, agentID string, healthy bool, detail string) {
	w.dispatch(ctx, Event{
		Type:      EventAgentStatus,
		Timestamp: time.Now().UTC(),
		Agent:     &AgentStatus{AgentID: agentID, Healthy: healthy, Detail: detail},
	})
}

func (w *Webhook) dispatch(ctx context.Context, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		w.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	go w.deliver(ctx, body, signPayload(body, w.secret))
}

// deliver sends one event with retries.
func (w *Webhook) deliver(ctx context.Context, body []byte, signature string) {
	for attempt := 1; attempt <= len(w.delays); attempt++ {
		if d := w.delays[attempt-1]; d > 0 {
			time.Sleep(d)
		}

		success, statusCode, errMsg := w.doDelivery(ctx, body, signature)
		if w.onMetrics != nil {
			w.onMetrics(success)
		}
		if success {
			return
		}

		w.logger.Warn("webhook: delivery failed",
			zap.String("url", w.url),
			zap.Int("attempt", attempt),
			zap.Int("status", statusCode),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (w *Webhook) doDelivery(ctx context.Context, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Attestary-Signature", signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
