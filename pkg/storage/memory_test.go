package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/webhooks"
)

func TestMemoryEventStoreIdempotentStore(t *testing.T) {
	store := NewMemoryStore().Events()
	ctx := context.Background()

	event := events.New(events.TypeAdsSpend, "test", map[string]interface{}{"amount": 100})
	require.NoError(t, store.Store(ctx, event))

	// same ID with different data must not overwrite
	changed := *event
	changed.Data = map[string]interface{}{"amount": 999}
	require.NoError(t, store.Store(ctx, &changed))

	got, err := store.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Data["amount"])
}

func TestMemoryEventStoreGetMissing(t *testing.T) {
	store := NewMemoryStore().Events()
	_, err := store.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, webhooks.ErrNotFound)
}

func TestMemoryEventStoreListFilters(t *testing.T) {
	store := NewMemoryStore().Events()
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, events.New(events.TypeAdsSpend, "google", nil)))
	require.NoError(t, store.Store(ctx, events.New(events.TypeAdsSpend, "meta", nil)))
	require.NoError(t, store.Store(ctx, events.New(events.TypeNotification, "google", nil)))

	list, err := store.List(ctx, webhooks.EventFilter{Type: events.TypeAdsSpend})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = store.List(ctx, webhooks.EventFilter{Source: "google"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = store.List(ctx, webhooks.EventFilter{Type: events.TypeAdsSpend, Source: "meta"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = store.List(ctx, webhooks.EventFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryLogStorePrune(t *testing.T) {
	store := NewMemoryStore().Logs()
	ctx := context.Background()

	old := &webhooks.DeliveryLog{ID: "old", EventID: "e1", Timestamp: time.Now().Add(-48 * time.Hour)}
	recent := &webhooks.DeliveryLog{ID: "recent", EventID: "e2", Timestamp: time.Now()}
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, recent))

	pruned, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	rows, err := store.List(ctx, webhooks.LogFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "recent", rows[0].ID)
}

func TestMemoryLogStoreListFilters(t *testing.T) {
	store := NewMemoryStore().Logs()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &webhooks.DeliveryLog{
		ID: "l1", WebhookID: "wh-1", EventID: "e1",
		Direction: webhooks.DirectionOutgoing, Status: webhooks.StatusDelivered,
	}))
	require.NoError(t, store.Append(ctx, &webhooks.DeliveryLog{
		ID: "l2", EventID: "e1",
		Direction: webhooks.DirectionIncoming, Status: webhooks.StatusDelivered,
	}))
	require.NoError(t, store.Append(ctx, &webhooks.DeliveryLog{
		ID: "l3", WebhookID: "wh-1", EventID: "e2",
		Direction: webhooks.DirectionOutgoing, Status: webhooks.StatusFailed,
	}))

	rows, err := store.List(ctx, webhooks.LogFilter{WebhookID: "wh-1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.List(ctx, webhooks.LogFilter{Direction: webhooks.DirectionIncoming})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = store.List(ctx, webhooks.LogFilter{Status: webhooks.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMemoryConfigStoreCRUD(t *testing.T) {
	store := NewMemoryStore().Configs()
	ctx := context.Background()

	cfg := &webhooks.WebhookConfig{
		ID: "wh-1", Name: "crm", URL: "https://example.com/hook",
		Method: "POST", RateLimitPerMinute: 60, IsActive: true,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateConfig(ctx, cfg))

	got, err := store.GetConfig(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "crm", got.Name)

	got.Name = "crm-v2"
	require.NoError(t, store.UpdateConfig(ctx, got))
	got, err = store.GetConfig(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "crm-v2", got.Name)

	// delete deactivates instead of removing
	require.NoError(t, store.DeleteConfig(ctx, "wh-1"))
	got, err = store.GetConfig(ctx, "wh-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, store.UpdateConfig(ctx, &webhooks.WebhookConfig{ID: "nope"}), webhooks.ErrNotFound)
	assert.ErrorIs(t, store.DeleteConfig(ctx, "nope"), webhooks.ErrNotFound)
}

func TestMemoryConfigStoreSubscriptionsByEventType(t *testing.T) {
	store := NewMemoryStore().Configs()
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, &webhooks.Subscription{
		ID: "sub-1", WebhookID: "wh-1",
		EventTypes: []string{events.TypeAdsSpend, events.TypeNotification},
		IsActive:   true,
	}))
	require.NoError(t, store.CreateSubscription(ctx, &webhooks.Subscription{
		ID: "sub-2", WebhookID: "wh-2",
		EventTypes: []string{events.TypeSystemDiagnostic},
		IsActive:   true,
	}))

	subs, err := store.ListSubscriptionsByEventType(ctx, events.TypeAdsSpend)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)

	all, err := store.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
