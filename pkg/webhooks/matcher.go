package webhooks

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealerhub/hookrelay/pkg/events"
)

// Target is one resolved destination for an event: the subscription that
// matched and its parent config.
type Target struct {
	Config       *WebhookConfig
	Subscription *Subscription
}

// Matcher resolves which registered destinations should receive an event
type Matcher struct {
	configs ConfigStore
}

// NewMatcher creates a matcher over the given config store
func NewMatcher(configs ConfigStore) *Matcher {
	return &Matcher{configs: configs}
}

// Match returns every active subscription+config pair whose event types
// include the event's type and whose filter accepts the event data. An
// empty result is expected, not an error.
func (m *Matcher) Match(ctx context.Context, event *events.Event) ([]Target, error) {
	subs, err := m.configs.ListSubscriptionsByEventType(ctx, event.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	var targets []Target
	for _, sub := range subs {
		if !sub.IsActive {
			continue
		}
		if !matchesFilter(sub.Filter, event.Data) {
			continue
		}

		cfg, err := m.configs.GetConfig(ctx, sub.WebhookID)
		if err != nil {
			// A dangling subscription is skipped, not fatal
			continue
		}
		if !cfg.IsActive {
			continue
		}

		targets = append(targets, Target{Config: cfg, Subscription: sub})
	}

	return targets, nil
}

// matchesFilter evaluates a conjunction of predicates against event data.
// A subscription with no filter always matches on type alone.
func matchesFilter(filter []FilterPredicate, data map[string]interface{}) bool {
	for _, p := range filter {
		value, ok := lookupField(data, p.Field)
		if !ok {
			return false
		}
		str := fmt.Sprint(value)
		switch p.Op {
		case FilterOpEq:
			if str != p.Value {
				return false
			}
		case FilterOpContains:
			if !strings.Contains(str, p.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// lookupField resolves a dotted path into nested maps
func lookupField(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
