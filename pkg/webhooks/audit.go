package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

// Auditor appends delivery log rows. Audit writes never fail the
// operation being audited; storage errors are logged and swallowed.
type Auditor struct {
	store  DeliveryLogStore
	logger *observability.Logger
}

func NewAuditor(store DeliveryLogStore, logger *observability.Logger) *Auditor {
	return &Auditor{store: store, logger: logger}
}

// RecordInbound logs the receipt of an event from an external producer
func (a *Auditor) RecordInbound(ctx context.Context, eventID, eventType string, payload []byte, status DeliveryStatus, response string, elapsed time.Duration) {
	a.append(ctx, &DeliveryLog{
		ID:               uuid.NewString(),
		EventID:          eventID,
		EventType:        eventType,
		Direction:        DirectionIncoming,
		RequestBody:      string(payload),
		Status:           status,
		ResponseBody:     response,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	})
}

// RecordOutbound logs the final result of a delivery to a destination
func (a *Auditor) RecordOutbound(ctx context.Context, cfg *WebhookConfig, eventID, eventType string, payload []byte, outcome Outcome, status DeliveryStatus, elapsed time.Duration) {
	retries := outcome.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	entry := &DeliveryLog{
		ID:               uuid.NewString(),
		WebhookID:        cfg.ID,
		EventID:          eventID,
		EventType:        eventType,
		Direction:        DirectionOutgoing,
		URL:              cfg.URL,
		RequestBody:      string(payload),
		Status:           status,
		StatusCode:       outcome.StatusCode,
		ResponseBody:     outcome.Response,
		RetryCount:       retries,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	a.append(ctx, entry)
}

func (a *Auditor) append(ctx context.Context, entry *DeliveryLog) {
	if a.store == nil {
		return
	}
	if err := a.store.Append(ctx, entry); err != nil {
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id":  entry.EventID,
			"direction": entry.Direction,
		}).Error("failed to append delivery log")
	}
}
