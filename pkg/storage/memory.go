package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/webhooks"
)

// MemoryStore implements all three store interfaces in process memory.
// It backs tests and single-node deployments without Postgres.
type MemoryStore struct {
	events  *memoryEvents
	logs    *memoryLogs
	configs *memoryConfigs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: &memoryEvents{byID: make(map[string]*events.Event)},
		logs:   &memoryLogs{},
		configs: &memoryConfigs{
			configs: make(map[string]*webhooks.WebhookConfig),
			subs:    make(map[string]*webhooks.Subscription),
		},
	}
}

func (s *MemoryStore) Events() webhooks.EventStore     { return s.events }
func (s *MemoryStore) Logs() webhooks.DeliveryLogStore { return s.logs }
func (s *MemoryStore) Configs() webhooks.ConfigStore   { return s.configs }

type memoryEvents struct {
	mu    sync.RWMutex
	byID  map[string]*events.Event
	order []string
}

// Store persists an event. An existing ID is left untouched.
func (s *memoryEvents) Store(_ context.Context, event *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[event.ID]; exists {
		return nil
	}
	copied := *event
	s.byID[event.ID] = &copied
	s.order = append(s.order, event.ID)
	return nil
}

func (s *memoryEvents) GetByID(_ context.Context, id string) (*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.byID[id]
	if !ok {
		return nil, webhooks.ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *memoryEvents) List(_ context.Context, filter webhooks.EventFilter) ([]*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*events.Event
	// newest first
	for i := len(s.order) - 1; i >= 0; i-- {
		event := s.byID[s.order[i]]
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		if filter.Source != "" && event.Source != filter.Source {
			continue
		}
		copied := *event
		matched = append(matched, &copied)
	}
	return paginate(matched, filter.Limit, filter.Offset), nil
}

type memoryLogs struct {
	mu   sync.RWMutex
	rows []*webhooks.DeliveryLog
}

func (s *memoryLogs) Append(_ context.Context, log *webhooks.DeliveryLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.rows = append(s.rows, &copied)
	return nil
}

func (s *memoryLogs) List(_ context.Context, filter webhooks.LogFilter) ([]*webhooks.DeliveryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*webhooks.DeliveryLog
	for i := len(s.rows) - 1; i >= 0; i-- {
		log := s.rows[i]
		if filter.WebhookID != "" && log.WebhookID != filter.WebhookID {
			continue
		}
		if filter.EventID != "" && log.EventID != filter.EventID {
			continue
		}
		if filter.Status != "" && log.Status != filter.Status {
			continue
		}
		if filter.Direction != "" && log.Direction != filter.Direction {
			continue
		}
		copied := *log
		matched = append(matched, &copied)
	}
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (s *memoryLogs) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var pruned int64
	for _, log := range s.rows {
		if log.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, log)
	}
	s.rows = kept
	return pruned, nil
}

type memoryConfigs struct {
	mu      sync.RWMutex
	configs map[string]*webhooks.WebhookConfig
	subs    map[string]*webhooks.Subscription
}

func (s *memoryConfigs) CreateConfig(_ context.Context, cfg *webhooks.WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *cfg
	s.configs[cfg.ID] = &copied
	return nil
}

func (s *memoryConfigs) GetConfig(_ context.Context, id string) (*webhooks.WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, webhooks.ErrNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (s *memoryConfigs) ListConfigs(_ context.Context) ([]*webhooks.WebhookConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*webhooks.WebhookConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		copied := *cfg
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *memoryConfigs) UpdateConfig(_ context.Context, cfg *webhooks.WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.configs[cfg.ID]
	if !ok {
		return webhooks.ErrNotFound
	}
	copied := *cfg
	copied.CreatedAt = existing.CreatedAt
	s.configs[cfg.ID] = &copied
	return nil
}

func (s *memoryConfigs) DeleteConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return webhooks.ErrNotFound
	}
	cfg.IsActive = false
	cfg.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryConfigs) CreateSubscription(_ context.Context, sub *webhooks.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sub
	s.subs[sub.ID] = &copied
	return nil
}

func (s *memoryConfigs) ListSubscriptions(_ context.Context) ([]*webhooks.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*webhooks.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		copied := *sub
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *memoryConfigs) ListSubscriptionsByEventType(_ context.Context, eventType string) ([]*webhooks.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*webhooks.Subscription
	for _, sub := range s.subs {
		for _, t := range sub.EventTypes {
			if strings.EqualFold(t, eventType) {
				copied := *sub
				list = append(list, &copied)
				break
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
