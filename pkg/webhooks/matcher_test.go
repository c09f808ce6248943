package webhooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerhub/hookrelay/pkg/events"
)

// fakeConfigStore is an in-test ConfigStore with canned data
type fakeConfigStore struct {
	configs map[string]*WebhookConfig
	subs    []*Subscription
}

func (f *fakeConfigStore) CreateConfig(context.Context, *WebhookConfig) error { return nil }
func (f *fakeConfigStore) GetConfig(_ context.Context, id string) (*WebhookConfig, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg, nil
}
func (f *fakeConfigStore) ListConfigs(context.Context) ([]*WebhookConfig, error) { return nil, nil }
func (f *fakeConfigStore) UpdateConfig(context.Context, *WebhookConfig) error    { return nil }
func (f *fakeConfigStore) DeleteConfig(context.Context, string) error            { return nil }
func (f *fakeConfigStore) CreateSubscription(context.Context, *Subscription) error {
	return nil
}
func (f *fakeConfigStore) ListSubscriptions(context.Context) ([]*Subscription, error) {
	return f.subs, nil
}
func (f *fakeConfigStore) ListSubscriptionsByEventType(_ context.Context, eventType string) ([]*Subscription, error) {
	var matched []*Subscription
	for _, sub := range f.subs {
		for _, t := range sub.EventTypes {
			if t == eventType {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched, nil
}

func activeConfig(id string) *WebhookConfig {
	return &WebhookConfig{
		ID:                 id,
		URL:                "https://example.com/hook",
		Method:             "POST",
		SecurityLevel:      SecurityNone,
		RateLimitPerMinute: 60,
		IsActive:           true,
	}
}

func TestMatcherMatchesByEventType(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{"wh-1": activeConfig("wh-1")},
		subs: []*Subscription{
			{ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeAdsSpend}, IsActive: true},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(), events.New(events.TypeAdsSpend, "test", nil))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "wh-1", targets[0].Config.ID)

	targets, err = m.Match(context.Background(), events.New(events.TypeNotification, "test", nil))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMatcherEqFilter(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{"wh-1": activeConfig("wh-1")},
		subs: []*Subscription{
			{
				ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeAdsSpend}, IsActive: true,
				Filter: []FilterPredicate{{Field: "campaign_id", Op: FilterOpEq, Value: "c-42"}},
			},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(),
		events.New(events.TypeAdsSpend, "test", map[string]interface{}{"campaign_id": "c-42"}))
	require.NoError(t, err)
	assert.Len(t, targets, 1)

	targets, err = m.Match(context.Background(),
		events.New(events.TypeAdsSpend, "test", map[string]interface{}{"campaign_id": "c-99"}))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMatcherContainsFilter(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{"wh-1": activeConfig("wh-1")},
		subs: []*Subscription{
			{
				ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeNotification}, IsActive: true,
				Filter: []FilterPredicate{{Field: "message", Op: FilterOpContains, Value: "urgent"}},
			},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(),
		events.New(events.TypeNotification, "test", map[string]interface{}{"message": "this is urgent please"}))
	require.NoError(t, err)
	assert.Len(t, targets, 1)

	targets, err = m.Match(context.Background(),
		events.New(events.TypeNotification, "test", map[string]interface{}{"message": "routine update"}))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMatcherDottedPathFilter(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{"wh-1": activeConfig("wh-1")},
		subs: []*Subscription{
			{
				ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeAdsSpend}, IsActive: true,
				Filter: []FilterPredicate{{Field: "account.region", Op: FilterOpEq, Value: "emea"}},
			},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(), events.New(events.TypeAdsSpend, "test",
		map[string]interface{}{"account": map[string]interface{}{"region": "emea"}}))
	require.NoError(t, err)
	assert.Len(t, targets, 1)

	// missing path fails the predicate
	targets, err = m.Match(context.Background(), events.New(events.TypeAdsSpend, "test",
		map[string]interface{}{"account": map[string]interface{}{}}))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMatcherNumericFieldComparesAsString(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{"wh-1": activeConfig("wh-1")},
		subs: []*Subscription{
			{
				ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeAdsSpend}, IsActive: true,
				Filter: []FilterPredicate{{Field: "amount", Op: FilterOpEq, Value: "100"}},
			},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(),
		events.New(events.TypeAdsSpend, "test", map[string]interface{}{"amount": 100}))
	require.NoError(t, err)
	assert.Len(t, targets, 1)
}

func TestMatcherSkipsInactive(t *testing.T) {
	inactiveCfg := activeConfig("wh-2")
	inactiveCfg.IsActive = false

	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{
			"wh-1": activeConfig("wh-1"),
			"wh-2": inactiveCfg,
		},
		subs: []*Subscription{
			{ID: "sub-1", WebhookID: "wh-1", EventTypes: []string{events.TypeAdsSpend}, IsActive: false},
			{ID: "sub-2", WebhookID: "wh-2", EventTypes: []string{events.TypeAdsSpend}, IsActive: true},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(), events.New(events.TypeAdsSpend, "test", nil))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestMatcherSkipsDanglingSubscription(t *testing.T) {
	store := &fakeConfigStore{
		configs: map[string]*WebhookConfig{},
		subs: []*Subscription{
			{ID: "sub-1", WebhookID: "wh-gone", EventTypes: []string{events.TypeAdsSpend}, IsActive: true},
		},
	}
	m := NewMatcher(store)

	targets, err := m.Match(context.Background(), events.New(events.TypeAdsSpend, "test", nil))
	require.NoError(t, err)
	assert.Empty(t, targets)
}
