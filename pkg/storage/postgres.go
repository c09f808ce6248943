package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/observability"
	"github.com/dealerhub/hookrelay/pkg/webhooks"
)

// SQLStore persists events, delivery logs, configs and subscriptions in
// a SQL database. It is written against Postgres (lib/pq); the schema
// and queries also run on SQLite, which the tests use.
type SQLStore struct {
	db      *sql.DB
	events  *sqlEvents
	logs    *sqlLogs
	configs *sqlConfigs
}

// NewSQLStore wraps db and creates the schema if missing
func NewSQLStore(db *sql.DB, metrics *observability.Metrics) (*SQLStore, error) {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	s := &SQLStore{
		db:      db,
		events:  &sqlEvents{db: db, metrics: metrics},
		logs:    &sqlLogs{db: db, metrics: metrics},
		configs: &sqlConfigs{db: db, metrics: metrics},
	}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Events() webhooks.EventStore     { return s.events }
func (s *SQLStore) Logs() webhooks.DeliveryLogStore { return s.logs }
func (s *SQLStore) Configs() webhooks.ConfigStore   { return s.configs }

func (s *SQLStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS webhook_events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			source TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			data TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_events_type ON webhook_events (event_type)`,
		`CREATE TABLE IF NOT EXISTS delivery_logs (
			id TEXT PRIMARY KEY,
			webhook_id TEXT,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			url TEXT,
			request_body TEXT,
			status_code INTEGER,
			response_body TEXT,
			error TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_logs_event ON delivery_logs (event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_logs_webhook ON delivery_logs (webhook_id)`,
		`CREATE TABLE IF NOT EXISTS webhook_configs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT,
			url TEXT NOT NULL,
			method TEXT NOT NULL,
			headers TEXT,
			security_level TEXT NOT NULL,
			security_config TEXT,
			rate_limit_per_minute INTEGER NOT NULL,
			retry_config TEXT NOT NULL,
			transform_template TEXT,
			is_active BOOLEAN NOT NULL,
			dealership_id TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_types TEXT NOT NULL,
			filter TEXT,
			transform_template TEXT,
			is_active BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_subscriptions_webhook ON webhook_subscriptions (webhook_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

type sqlEvents struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// Store inserts the event, ignoring an existing ID
func (s *sqlEvents) Store(ctx context.Context, event *events.Event) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("store_event", "sql", err, time.Since(started)) }()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_type, source, occurred_at, data, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		event.ID, event.Type, event.Source, event.Timestamp.UTC(),
		string(data), string(metadata), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}

func (s *sqlEvents) GetByID(ctx context.Context, id string) (event *events.Event, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("get_event", "sql", err, time.Since(started)) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, source, occurred_at, data, metadata
		FROM webhook_events WHERE id = $1`, id)
	event, err = scanEvent(row)
	return event, err
}

func (s *sqlEvents) List(ctx context.Context, filter webhooks.EventFilter) (list []*events.Event, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("list_events", "sql", err, time.Since(started)) }()

	query := `SELECT id, event_type, source, occurred_at, data, metadata FROM webhook_events`
	var conditions []string
	var args []interface{}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, event)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	var event events.Event
	var data, metadata sql.NullString
	err := row.Scan(&event.ID, &event.Type, &event.Source, &event.Timestamp, &data, &metadata)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &event.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
	}
	return &event, nil
}

type sqlLogs struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func (s *sqlLogs) Append(ctx context.Context, log *webhooks.DeliveryLog) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("append_log", "sql", err, time.Since(started)) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_logs (id, webhook_id, event_id, event_type, direction, status,
			url, request_body, status_code, response_body, error, retry_count,
			processing_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		log.ID, log.WebhookID, log.EventID, log.EventType, string(log.Direction),
		string(log.Status), log.URL, log.RequestBody, log.StatusCode,
		log.ResponseBody, log.Error, log.RetryCount, log.ProcessingTimeMs,
		log.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append delivery log: %w", err)
	}
	return nil
}

func (s *sqlLogs) List(ctx context.Context, filter webhooks.LogFilter) (list []*webhooks.DeliveryLog, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("list_logs", "sql", err, time.Since(started)) }()

	query := `SELECT id, webhook_id, event_id, event_type, direction, status, url,
		request_body, status_code, response_body, error, retry_count,
		processing_time_ms, created_at FROM delivery_logs`
	var conditions []string
	var args []interface{}
	if filter.WebhookID != "" {
		args = append(args, filter.WebhookID)
		conditions = append(conditions, fmt.Sprintf("webhook_id = $%d", len(args)))
	}
	if filter.EventID != "" {
		args = append(args, filter.EventID)
		conditions = append(conditions, fmt.Sprintf("event_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Direction != "" {
		args = append(args, string(filter.Direction))
		conditions = append(conditions, fmt.Sprintf("direction = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var log webhooks.DeliveryLog
		var webhookID, url, requestBody, responseBody, errMsg sql.NullString
		var statusCode sql.NullInt64
		if err := rows.Scan(&log.ID, &webhookID, &log.EventID, &log.EventType,
			&log.Direction, &log.Status, &url, &requestBody, &statusCode,
			&responseBody, &errMsg, &log.RetryCount, &log.ProcessingTimeMs,
			&log.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan delivery log: %w", err)
		}
		log.WebhookID = webhookID.String
		log.URL = url.String
		log.RequestBody = requestBody.String
		log.ResponseBody = responseBody.String
		log.Error = errMsg.String
		log.StatusCode = int(statusCode.Int64)
		list = append(list, &log)
	}
	return list, rows.Err()
}

func (s *sqlLogs) Prune(ctx context.Context, olderThan time.Time) (pruned int64, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("prune_logs", "sql", err, time.Since(started)) }()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM delivery_logs WHERE created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery logs: %w", err)
	}
	return result.RowsAffected()
}

type sqlConfigs struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func (s *sqlConfigs) CreateConfig(ctx context.Context, cfg *webhooks.WebhookConfig) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("create_config", "sql", err, time.Since(started)) }()

	headers, security, retry, metadata, err := marshalConfigColumns(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_configs (id, name, type, url, method, headers, security_level,
			security_config, rate_limit_per_minute, retry_config, transform_template,
			is_active, dealership_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		cfg.ID, cfg.Name, cfg.Type, cfg.URL, cfg.Method, headers,
		string(cfg.SecurityLevel), security, cfg.RateLimitPerMinute, retry,
		cfg.TransformTemplate, cfg.IsActive, cfg.DealershipID, metadata,
		cfg.CreatedAt.UTC(), cfg.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create webhook config: %w", err)
	}
	return nil
}

func (s *sqlConfigs) GetConfig(ctx context.Context, id string) (cfg *webhooks.WebhookConfig, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("get_config", "sql", err, time.Since(started)) }()

	row := s.db.QueryRowContext(ctx, configSelect+` WHERE id = $1`, id)
	cfg, err = scanConfig(row)
	return cfg, err
}

func (s *sqlConfigs) ListConfigs(ctx context.Context) (list []*webhooks.WebhookConfig, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("list_configs", "sql", err, time.Since(started)) }()

	rows, err := s.db.QueryContext(ctx, configSelect+` ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook configs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, cfg)
	}
	return list, rows.Err()
}

func (s *sqlConfigs) UpdateConfig(ctx context.Context, cfg *webhooks.WebhookConfig) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("update_config", "sql", err, time.Since(started)) }()

	headers, security, retry, metadata, err := marshalConfigColumns(cfg)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhook_configs SET name = $1, type = $2, url = $3, method = $4,
			headers = $5, security_level = $6, security_config = $7,
			rate_limit_per_minute = $8, retry_config = $9, transform_template = $10,
			is_active = $11, dealership_id = $12, metadata = $13, updated_at = $14
		WHERE id = $15`,
		cfg.Name, cfg.Type, cfg.URL, cfg.Method, headers, string(cfg.SecurityLevel),
		security, cfg.RateLimitPerMinute, retry, cfg.TransformTemplate, cfg.IsActive,
		cfg.DealershipID, metadata, cfg.UpdatedAt.UTC(), cfg.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return webhooks.ErrNotFound
	}
	return nil
}

func (s *sqlConfigs) DeleteConfig(ctx context.Context, id string) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("delete_config", "sql", err, time.Since(started)) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE webhook_configs SET is_active = $1, updated_at = $2 WHERE id = $3`,
		false, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook config: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return webhooks.ErrNotFound
	}
	return nil
}

func (s *sqlConfigs) CreateSubscription(ctx context.Context, sub *webhooks.Subscription) (err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("create_subscription", "sql", err, time.Since(started)) }()

	eventTypes, err := json.Marshal(sub.EventTypes)
	if err != nil {
		return fmt.Errorf("failed to marshal event types: %w", err)
	}
	filter, err := json.Marshal(sub.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal filter: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, webhook_id, event_types, filter,
			transform_template, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.WebhookID, string(eventTypes), string(filter),
		sub.TransformTemplate, sub.IsActive, sub.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *sqlConfigs) ListSubscriptions(ctx context.Context) ([]*webhooks.Subscription, error) {
	return s.querySubscriptions(ctx)
}

// ListSubscriptionsByEventType filters in process; event_types is a JSON
// array column and the store stays portable across Postgres and SQLite.
func (s *sqlConfigs) ListSubscriptionsByEventType(ctx context.Context, eventType string) ([]*webhooks.Subscription, error) {
	subs, err := s.querySubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*webhooks.Subscription
	for _, sub := range subs {
		for _, t := range sub.EventTypes {
			if strings.EqualFold(t, eventType) {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

func (s *sqlConfigs) querySubscriptions(ctx context.Context) (list []*webhooks.Subscription, err error) {
	started := time.Now()
	defer func() { s.metrics.ObserveStorageOperation("list_subscriptions", "sql", err, time.Since(started)) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_types, filter, transform_template, is_active, created_at
		FROM webhook_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sub webhooks.Subscription
		var eventTypes, filter sql.NullString
		if err := rows.Scan(&sub.ID, &sub.WebhookID, &eventTypes, &filter,
			&sub.TransformTemplate, &sub.IsActive, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		if eventTypes.Valid && eventTypes.String != "" {
			if err := json.Unmarshal([]byte(eventTypes.String), &sub.EventTypes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event types: %w", err)
			}
		}
		if filter.Valid && filter.String != "" && filter.String != "null" {
			if err := json.Unmarshal([]byte(filter.String), &sub.Filter); err != nil {
				return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
			}
		}
		list = append(list, &sub)
	}
	return list, rows.Err()
}

const configSelect = `SELECT id, name, type, url, method, headers, security_level,
	security_config, rate_limit_per_minute, retry_config, transform_template,
	is_active, dealership_id, metadata, created_at, updated_at FROM webhook_configs`

func marshalConfigColumns(cfg *webhooks.WebhookConfig) (headers, security, retry, metadata string, err error) {
	h, err := json.Marshal(cfg.Headers)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal headers: %w", err)
	}
	sc, err := json.Marshal(cfg.SecurityConfig)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal security config: %w", err)
	}
	rc, err := json.Marshal(cfg.Retry)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal retry config: %w", err)
	}
	md, err := json.Marshal(cfg.Metadata)
	if err != nil {
		return "", "", "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(h), string(sc), string(rc), string(md), nil
}

func scanConfig(row rowScanner) (*webhooks.WebhookConfig, error) {
	var cfg webhooks.WebhookConfig
	var headers, security, retry, metadata sql.NullString
	var typ, transform, dealership sql.NullString
	err := row.Scan(&cfg.ID, &cfg.Name, &typ, &cfg.URL, &cfg.Method, &headers,
		&cfg.SecurityLevel, &security, &cfg.RateLimitPerMinute, &retry,
		&transform, &cfg.IsActive, &dealership, &metadata,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, webhooks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook config: %w", err)
	}
	cfg.Type = typ.String
	cfg.TransformTemplate = transform.String
	cfg.DealershipID = dealership.String
	if headers.Valid && headers.String != "" && headers.String != "null" {
		if err := json.Unmarshal([]byte(headers.String), &cfg.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if security.Valid && security.String != "" && security.String != "null" {
		if err := json.Unmarshal([]byte(security.String), &cfg.SecurityConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal security config: %w", err)
		}
	}
	if retry.Valid && retry.String != "" {
		if err := json.Unmarshal([]byte(retry.String), &cfg.Retry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry config: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &cfg.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cfg, nil
}
