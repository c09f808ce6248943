package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dealerhub/hookrelay/pkg/async"
	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/observability"
)

// ServiceOptions collects the dependencies of the engine. All fields
// except the stores are optional; nil fields get working defaults.
type ServiceOptions struct {
	Events      EventStore
	Configs     ConfigStore
	Logs        DeliveryLogStore
	Limiter     RateLimiter
	Registry    *Registry
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	InboundAuth Validator

	DeliveryWorkers    int
	DeliveryTimeout    time.Duration
	DeliveryBudget     time.Duration
	MaxBackoff         time.Duration
	BreakerMaxFailures int
	BreakerResetAfter  time.Duration
	TemplateCacheSize  int

	// DefaultRateLimit applies when a new config omits rate_limit_per_minute
	DefaultRateLimit int
}

// Service is the delivery engine. It validates and ingests inbound
// events, fans them out to matched destinations through a bounded
// worker pool, and records every receipt and delivery in the audit log.
type Service struct {
	events   EventStore
	configs  ConfigStore
	registry *Registry
	matcher  *Matcher
	limiter  RateLimiter
	breakers *BreakerRegistry
	deliver  *Deliverer
	auditor  *Auditor
	logs     DeliveryLogStore
	tmpl     *Transformer
	inbound  Validator
	pool     *async.Pool
	logger   *observability.Logger
	metrics  *observability.Metrics
	budget   time.Duration

	defaultRateLimit int
}

// NewService wires the engine from its options
func NewService(ctx context.Context, opts ServiceOptions) (*Service, error) {
	if opts.Events == nil || opts.Configs == nil {
		return nil, fmt.Errorf("event store and config store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewWindowLimiter()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	inbound := opts.InboundAuth
	if inbound == nil {
		inbound = NoneValidator{}
	}

	workers := opts.DeliveryWorkers
	if workers <= 0 {
		workers = 32
	}
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	budget := opts.DeliveryBudget
	if budget <= 0 {
		budget = 5 * time.Minute
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	resetAfter := opts.BreakerResetAfter
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	cacheSize := opts.TemplateCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	defaultRateLimit := opts.DefaultRateLimit
	if defaultRateLimit <= 0 {
		defaultRateLimit = 60
	}

	tmpl, err := NewTransformer(cacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transformer: %w", err)
	}

	return &Service{
		events:   opts.Events,
		configs:  opts.Configs,
		registry: registry,
		matcher:  NewMatcher(opts.Configs),
		limiter:  limiter,
		breakers: NewBreakerRegistry(maxFailures, resetAfter, metrics),
		deliver:  NewDeliverer(timeout, opts.MaxBackoff, NewSigner(), logger, metrics),
		auditor:  NewAuditor(opts.Logs, logger),
		logs:     opts.Logs,
		tmpl:     tmpl,
		inbound:  inbound,
		pool:     async.NewPool(ctx, workers, "webhook-delivery", budget, logger),
		logger:   logger,
		metrics:  metrics,
		budget:   budget,

		defaultRateLimit: defaultRateLimit,
	}, nil
}

// Registry exposes the handler registry for startup registration
func (s *Service) Registry() *Registry { return s.registry }

// ValidateInbound checks the signature headers of an inbound request body.
// Rejected requests are audited with status invalid and never stored.
func (s *Service) ValidateInbound(ctx context.Context, body []byte, header http.Header, eventType string) error {
	if err := s.inbound.Validate(body, header); err != nil {
		s.metrics.SignatureFailuresTotal.WithLabelValues(eventType).Inc()
		s.auditor.RecordInbound(ctx, "", eventType, body, StatusInvalid, err.Error(), 0)
		return err
	}
	return nil
}

// Ingest stores the event, audits the receipt, dispatches the registered
// handler, and schedules fan-out. The event ID is an idempotency key:
// re-ingesting an ID that is already stored returns the handler result
// without publishing again.
func (s *Service) Ingest(ctx context.Context, event *events.Event) (interface{}, error) {
	started := time.Now()
	log := s.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	duplicate := false
	if _, err := s.events.GetByID(ctx, event.ID); err == nil {
		duplicate = true
	}

	if err := s.events.Store(ctx, event); err != nil {
		s.metrics.EventsReceivedTotal.WithLabelValues(event.Type, event.Source, "error").Inc()
		return nil, fmt.Errorf("failed to store event: %w", err)
	}

	payload, _ := json.Marshal(event)
	s.auditor.RecordInbound(ctx, event.ID, event.Type, payload, StatusDelivered, "", time.Since(started))

	result, err := s.registry.Dispatch(ctx, event)
	if err != nil {
		s.metrics.EventsReceivedTotal.WithLabelValues(event.Type, event.Source, "handler_error").Inc()
		return nil, fmt.Errorf("handler failed for event type %s: %w", event.Type, err)
	}
	s.metrics.EventsReceivedTotal.WithLabelValues(event.Type, event.Source, "ok").Inc()

	if duplicate {
		log.Info("duplicate event ingested, skipping fan-out")
		return result, nil
	}

	async.SafeGo(context.Background(), s.budget, "webhook-publish", s.logger, func(ctx context.Context) error {
		return s.Publish(ctx, event)
	})

	log.Info("event ingested")
	return result, nil
}

// Publish fans the event out to every matched destination. Each
// destination delivers on its own pool worker; one slow endpoint never
// blocks the rest.
func (s *Service) Publish(ctx context.Context, event *events.Event) error {
	targets, err := s.matcher.Match(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to match subscriptions: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	for _, target := range targets {
		target := target
		if err := s.pool.Submit(func(ctx context.Context) {
			s.deliverTo(ctx, target, event)
		}); err != nil {
			s.logger.WithError(err).WithField("webhook_id", target.Config.ID).
				Warn("failed to schedule delivery")
		}
	}
	return nil
}

// deliverTo runs the full pipeline for one destination: transform,
// rate limit, circuit breaker, HTTP delivery, audit, metrics.
func (s *Service) deliverTo(ctx context.Context, target Target, event *events.Event) {
	cfg := target.Config
	started := time.Now()
	log := s.logger.WithFields(map[string]interface{}{
		"webhook_id": cfg.ID,
		"event_id":   event.ID,
		"url":        cfg.URL,
	})

	templateText := cfg.TransformTemplate
	if target.Subscription != nil && target.Subscription.TransformTemplate != "" {
		templateText = target.Subscription.TransformTemplate
	}
	payload := s.tmpl.Transform(event, cfg.ID, templateText)

	allowed, err := s.limiter.Allow(ctx, cfg.ID, cfg.RateLimitPerMinute)
	if err != nil {
		log.WithError(err).Warn("rate limiter unavailable, allowing delivery")
	}
	if !allowed {
		s.metrics.RateLimitedTotal.WithLabelValues(cfg.ID).Inc()
		s.auditor.RecordOutbound(ctx, cfg, event.ID, event.Type,
			payload, Outcome{Err: ErrRateLimited}, StatusRateLimited, time.Since(started))
		s.metrics.ObserveDelivery(event.Type, cfg.ID, string(StatusRateLimited), time.Since(started))
		log.Warn("delivery rate limited")
		return
	}

	breaker := s.breakers.Get(cfg.ID)
	var outcome Outcome
	err = breaker.Execute(func() error {
		outcome = s.deliver.Deliver(ctx, cfg, event.ID, event.Type, payload)
		if outcome.Success {
			return nil
		}
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("delivery failed with status %d", outcome.StatusCode)
	})
	s.breakers.Observe(cfg.ID)

	status := StatusDelivered
	if err != nil {
		status = StatusFailed
		if outcome.Err == nil {
			outcome.Err = err
		}
	}
	s.auditor.RecordOutbound(ctx, cfg, event.ID, event.Type, payload, outcome, status, time.Since(started))
	s.metrics.ObserveDelivery(event.Type, cfg.ID, string(status), time.Since(started))

	if err != nil {
		if err == ErrCircuitOpen {
			s.metrics.CircuitOpenTotal.WithLabelValues(cfg.ID).Inc()
			log.Warn("delivery skipped, circuit open")
			return
		}
		log.WithError(err).WithField("attempts", outcome.Attempts).Error("delivery failed")
		return
	}
	log.WithFields(map[string]interface{}{
		"status_code": outcome.StatusCode,
		"attempts":    outcome.Attempts,
	}).Info("delivery succeeded")
}

// Shutdown drains the delivery pool
func (s *Service) Shutdown(timeout time.Duration) error {
	return s.pool.Shutdown(timeout)
}

// GetEvent returns a stored event by ID
func (s *Service) GetEvent(ctx context.Context, id string) (*events.Event, error) {
	return s.events.GetByID(ctx, id)
}

// ListEvents lists stored events
func (s *Service) ListEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error) {
	return s.events.List(ctx, filter)
}

// ListLogs lists delivery log rows
func (s *Service) ListLogs(ctx context.Context, filter LogFilter) ([]*DeliveryLog, error) {
	if s.logs == nil {
		return nil, nil
	}
	return s.logs.List(ctx, filter)
}

// CreateConfig validates and persists a destination config
func (s *Service) CreateConfig(ctx context.Context, cfg *WebhookConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = s.defaultRateLimit
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	return s.configs.CreateConfig(ctx, cfg)
}

// GetConfig returns one destination config
func (s *Service) GetConfig(ctx context.Context, id string) (*WebhookConfig, error) {
	return s.configs.GetConfig(ctx, id)
}

// ListConfigs lists destination configs
func (s *Service) ListConfigs(ctx context.Context) ([]*WebhookConfig, error) {
	return s.configs.ListConfigs(ctx)
}

// UpdateConfig validates and persists changes to a destination config
func (s *Service) UpdateConfig(ctx context.Context, cfg *WebhookConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	return s.configs.UpdateConfig(ctx, cfg)
}

// DeleteConfig deactivates a destination config
func (s *Service) DeleteConfig(ctx context.Context, id string) error {
	return s.configs.DeleteConfig(ctx, id)
}

// CreateSubscription validates and persists a subscription
func (s *Service) CreateSubscription(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	if _, err := s.configs.GetConfig(ctx, sub.WebhookID); err != nil {
		return fmt.Errorf("webhook config %s: %w", sub.WebhookID, err)
	}
	sub.CreatedAt = time.Now().UTC()
	return s.configs.CreateSubscription(ctx, sub)
}

// ListSubscriptions lists subscriptions
func (s *Service) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	return s.configs.ListSubscriptions(ctx)
}

// PruneLogs deletes delivery log rows older than the cutoff
func (s *Service) PruneLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	if s.logs == nil {
		return 0, nil
	}
	return s.logs.Prune(ctx, olderThan)
}
