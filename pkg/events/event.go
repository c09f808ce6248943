package events

import (
	"time"

	"github.com/google/uuid"
)

// Well-known event types. The receiver accepts arbitrary types; these are
// the ones with fixed inbound aliases.
const (
	TypeAdsSpend         = "ads_spend"
	TypeSystemDiagnostic = "system_diagnostic"
	TypeNotification     = "notification"
)

// Event is the canonical webhook event envelope. Events are immutable
// facts: created once at ingestion and never mutated afterwards.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an event with a generated ID and the current timestamp.
func New(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  make(map[string]interface{}),
	}
}

// WithMetadata attaches a metadata entry and returns the event for chaining
// during construction. Must not be called after the event has been stored.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}
