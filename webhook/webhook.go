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
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/otakuscrape/pipeline"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"` // "extraction.degraded"
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
const SignatureHeader = "X-Otakuscrape-Signature"

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Otakuscrape-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier posts degraded-extraction alerts, at most one per schema per
// throttle interval.
type Notifier struct {
	url      string
	secret   string
	client   *http.Client
	throttle *Throttle

	// Delays between delivery tries. The first try is immediate.
	retryDelays []time.Duration

	// done is closed by Close and abandons pending retries.
	done      chan struct{}
	closeOnce sync.Once
}

// NewNotifier creates a Notifier. A zero throttle sends every alert.
func NewNotifier(url, secret string, throttle time.Duration) *Notifier {
	return &Notifier{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		throttle:    NewThrottle(throttle),
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		done:        make(chan struct{}),
	}
}

// Degraded implements pipeline.Notifier. Delivery happens in the
// background; ctx is not used past the call.
func (n *Notifier) Degraded(_ context.Context, alert *pipeline.Alert) {
	if !n.throttle.Allow(alert.Schema) {
		slog.Debug("webhook alert throttled", "schema", alert.Schema)
		return
	}
	event := &Event{
		Type:      "extraction.degraded",
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Data:      alert,
	}
	go n.deliverWithRetry(event)
}

// Close stops the throttle's cleanup loop and drops deliveries still
// waiting for a retry. A try already in flight is cancelled.
func (n *Notifier) Close() {
	n.closeOnce.Do(func() {
		close(n.done)
		n.throttle.Stop()
	})
}

func (n *Notifier) deliverWithRetry(event *Event) {
	delays := append([]time.Duration{0}, n.retryDelays...)
	for attempt, delay := range delays {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-n.done:
				timer.Stop()
				slog.Info("webhook delivery abandoned on shutdown",
					"url", n.url,
					"event", event.Type,
					"id", event.ID,
					"attempt", attempt+1,
				)
				return
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		go func() {
			select {
			case <-n.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := Deliver(ctx, n.client, n.url, n.secret, event)
		cancel()
		if err == nil {
			slog.Info("webhook delivered",
				"url", n.url,
				"event", event.Type,
				"id", event.ID,
				"attempt", attempt+1,
			)
			return
		}
		slog.Warn("webhook delivery failed",
			"url", n.url,
			"event", event.Type,
			"id", event.ID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	slog.Error("webhook delivery exhausted all retries",
		"url", n.url,
		"event", event.Type,
		"id", event.ID,
	)
}
