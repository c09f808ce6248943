package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dealerhub/hookrelay/pkg/events"
)

// SecurityLevel selects how outbound requests are signed and how inbound
// requests are validated for a destination.
type SecurityLevel string

const (
	SecurityNone  SecurityLevel = "none"
	SecurityHMAC  SecurityLevel = "hmac"
	SecurityJWT   SecurityLevel = "jwt"
	SecurityOAuth SecurityLevel = "oauth"
)

// SecurityConfig carries the credentials for a security level. Only the
// fields for the configured level are used.
type SecurityConfig struct {
	// Secret is the HMAC shared secret or the JWT signing key
	Secret string `json:"secret,omitempty"`

	// OAuth client-credentials settings
	TokenURL     string   `json:"token_url,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`

	// JWT claims
	Issuer   string `json:"issuer,omitempty"`
	Audience string `json:"audience,omitempty"`
}

// RetryConfig configures retry behavior for a destination
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		RetryDelay:        1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WebhookConfig is a registered outbound destination
type WebhookConfig struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Type               string                 `json:"type"`
	URL                string                 `json:"url"`
	Method             string                 `json:"method"`
	Headers            map[string]string      `json:"headers,omitempty"`
	SecurityLevel      SecurityLevel          `json:"security_level"`
	SecurityConfig     SecurityConfig         `json:"security_config,omitempty"`
	RateLimitPerMinute int                    `json:"rate_limit_per_minute"`
	Retry              RetryConfig            `json:"retry_config"`
	TransformTemplate  string                 `json:"transformation_template,omitempty"`
	IsActive           bool                   `json:"is_active"`
	DealershipID       string                 `json:"dealership_id,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// Validate checks config invariants, filling defaults where allowed
func (c *WebhookConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("webhook URL is required")
	}
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityNone
	}
	switch c.SecurityLevel {
	case SecurityNone:
	case SecurityHMAC, SecurityJWT:
		if c.SecurityConfig.Secret == "" {
			return fmt.Errorf("security level %s requires a secret", c.SecurityLevel)
		}
	case SecurityOAuth:
		if c.SecurityConfig.TokenURL == "" || c.SecurityConfig.ClientID == "" {
			return fmt.Errorf("security level oauth requires token_url and client_id")
		}
	default:
		return fmt.Errorf("unknown security level: %s", c.SecurityLevel)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("rate_limit_per_minute must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if c.Retry.RetryDelay <= 0 {
		c.Retry.RetryDelay = time.Second
	}
	if c.Retry.BackoffMultiplier < 1.0 {
		c.Retry.BackoffMultiplier = 2.0
	}
	return nil
}

// FilterOp is a predicate operator over event data fields
type FilterOp string

const (
	FilterOpEq       FilterOp = "eq"
	FilterOpContains FilterOp = "contains"
)

// FilterPredicate matches a single field of event data. Field supports
// dotted paths into nested objects.
type FilterPredicate struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value string   `json:"value"`
}

// Subscription binds a webhook config to a set of event types
type Subscription struct {
	ID                string            `json:"id"`
	WebhookID         string            `json:"webhook_id"`
	EventTypes        []string          `json:"event_types"`
	Filter            []FilterPredicate `json:"filter,omitempty"`
	TransformTemplate string            `json:"transformation_template,omitempty"`
	IsActive          bool              `json:"is_active"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Validate checks subscription invariants
func (s *Subscription) Validate() error {
	if s.WebhookID == "" {
		return fmt.Errorf("webhook_id is required")
	}
	if len(s.EventTypes) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, p := range s.Filter {
		if p.Field == "" {
			return fmt.Errorf("filter predicate requires a field")
		}
		switch p.Op {
		case FilterOpEq, FilterOpContains:
		default:
			return fmt.Errorf("unknown filter op: %s", p.Op)
		}
	}
	return nil
}

// DeliveryDirection distinguishes inbound receipts from outbound attempts
type DeliveryDirection string

const (
	DirectionIncoming DeliveryDirection = "incoming"
	DirectionOutgoing DeliveryDirection = "outgoing"
)

// DeliveryStatus is the terminal status of a delivery log row
type DeliveryStatus string

const (
	StatusPending     DeliveryStatus = "pending"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusFailed      DeliveryStatus = "failed"
	StatusRateLimited DeliveryStatus = "rate_limited"
	StatusInvalid     DeliveryStatus = "invalid"
)

// DeliveryLog is one append-only audit row per delivery attempt sequence
// or inbound receipt. Its ID is distinct from the event ID so multiple
// attempts for one event stay distinguishable.
type DeliveryLog struct {
	ID               string            `json:"id"`
	WebhookID        string            `json:"webhook_id,omitempty"`
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	Direction        DeliveryDirection `json:"direction"`
	Status           DeliveryStatus    `json:"status"`
	URL              string            `json:"url,omitempty"`
	RequestHeaders   map[string]string `json:"request_headers,omitempty"`
	RequestBody      string            `json:"request_body,omitempty"`
	StatusCode       int               `json:"status_code,omitempty"`
	ResponseBody     string            `json:"response_body,omitempty"`
	Error            string            `json:"error,omitempty"`
	RetryCount       int               `json:"retry_count"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Sentinel errors shared across the engine
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// EventFilter selects events for listing
type EventFilter struct {
	Type   string
	Source string
	Limit  int
	Offset int
}

// LogFilter selects delivery logs for listing
type LogFilter struct {
	WebhookID string
	EventID   string
	Status    DeliveryStatus
	Direction DeliveryDirection
	Limit     int
	Offset    int
}

// EventStore durably persists events. Store treats the event ID as an
// idempotency key: storing an existing ID is a no-op, not an error.
type EventStore interface {
	Store(ctx context.Context, event *events.Event) error
	GetByID(ctx context.Context, id string) (*events.Event, error)
	List(ctx context.Context, filter EventFilter) ([]*events.Event, error)
}

// DeliveryLogStore is the append-only sink for delivery audit rows
type DeliveryLogStore interface {
	Append(ctx context.Context, log *DeliveryLog) error
	List(ctx context.Context, filter LogFilter) ([]*DeliveryLog, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// ConfigStore persists webhook configs and subscriptions
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg *WebhookConfig) error
	GetConfig(ctx context.Context, id string) (*WebhookConfig, error)
	ListConfigs(ctx context.Context) ([]*WebhookConfig, error)
	UpdateConfig(ctx context.Context, cfg *WebhookConfig) error
	// DeleteConfig soft-deletes by clearing is_active
	DeleteConfig(ctx context.Context, id string) error

	CreateSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
	ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]*Subscription, error)
}
