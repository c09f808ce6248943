package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

const maxResponseSnapshot = 4 * 1024

// Outcome is the result of one whole delivery attempt sequence
type Outcome struct {
	Success    bool
	Attempts   int
	StatusCode int
	Response   string
	Err        error
}

// attemptResult classifies a single HTTP attempt
type attemptResult int

const (
	attemptSuccess attemptResult = iota
	attemptRetryable
	attemptTerminal
)

// Deliverer performs the outbound HTTP call with per-attempt timeout,
// retry with exponential backoff, and signed headers. The circuit breaker
// wraps whole Deliver calls, not individual attempts; Deliverer itself
// knows nothing about breakers or rate limits.
type Deliverer struct {
	client         *http.Client
	signer         *Signer
	logger         *observability.Logger
	metrics        *observability.Metrics
	attemptTimeout time.Duration
	maxBackoff     time.Duration

	// sleep is overridable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDeliverer creates a delivery executor. The HTTP client uses an
// otelhttp transport so every attempt produces a client span.
func NewDeliverer(attemptTimeout, maxBackoff time.Duration, signer *Signer, logger *observability.Logger, metrics *observability.Metrics) *Deliverer {
	if attemptTimeout <= 0 {
		attemptTimeout = 10 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	return &Deliverer{
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		signer:         signer,
		logger:         logger,
		metrics:        metrics,
		attemptTimeout: attemptTimeout,
		maxBackoff:     maxBackoff,
		sleep:          sleepCtx,
	}
}

// Deliver runs up to MaxRetries+1 attempts against cfg's endpoint.
// Retries for one delivery are strictly sequential; the backoff between
// attempt n and n+1 is RetryDelay * BackoffMultiplier^(n-1), capped.
func (d *Deliverer) Deliver(ctx context.Context, cfg *WebhookConfig, eventID, eventType string, payload []byte) Outcome {
	outcome := Outcome{}
	totalAttempts := cfg.Retry.MaxRetries + 1

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		outcome.Attempts = attempt

		result, status, body, err := d.attempt(ctx, cfg, eventID, eventType, payload)
		outcome.StatusCode = status
		outcome.Response = body
		outcome.Err = err

		switch result {
		case attemptSuccess:
			outcome.Success = true
			outcome.Err = nil
			return outcome

		case attemptTerminal:
			return outcome

		case attemptRetryable:
			if d.metrics != nil {
				d.metrics.DeliveryRetriesTotal.WithLabelValues(cfg.ID).Inc()
			}
			if attempt == totalAttempts {
				return outcome
			}
			delay := Backoff(cfg.Retry, attempt, d.maxBackoff)
			d.logger.WithFields(map[string]interface{}{
				"webhook_id": cfg.ID,
				"event_id":   eventID,
				"attempt":    attempt,
				"backoff":    delay.String(),
			}).Debug("delivery attempt failed, backing off")
			if err := d.sleep(ctx, delay); err != nil {
				outcome.Err = err
				return outcome
			}
		}
	}

	return outcome
}

// attempt performs one HTTP call and classifies the result
func (d *Deliverer) attempt(ctx context.Context, cfg *WebhookConfig, eventID, eventType string, payload []byte) (attemptResult, int, string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, cfg.Method, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return attemptTerminal, 0, "", fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookID, cfg.ID)
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderEventType, eventType)
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if err := d.signer.Sign(attemptCtx, req, cfg, payload); err != nil {
		return attemptTerminal, 0, "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptTerminal, 0, "", ctx.Err()
		}
		return attemptRetryable, 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	snapshot, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnapshot))
	body := string(snapshot)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return attemptSuccess, resp.StatusCode, body, nil
	}
	return attemptRetryable, resp.StatusCode, body, fmt.Errorf("destination returned status %d", resp.StatusCode)
}

// Backoff computes the delay before the attempt following attempt n
func Backoff(retry RetryConfig, attempt int, max time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := float64(retry.RetryDelay) * math.Pow(retry.BackoffMultiplier, float64(attempt-1))
	if max > 0 && delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}

// sleepCtx sleeps for d, waking early when ctx is canceled. Only the
// current delivery suspends; workers for other destinations keep going.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
