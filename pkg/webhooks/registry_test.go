package webhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerhub/hookrelay/pkg/events"
)

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(HandlerFunc{
		Type: events.TypeAdsSpend,
		Fn: func(_ context.Context, event *events.Event) (interface{}, error) {
			return event.Data["amount"], nil
		},
	}))

	result, err := r.Dispatch(context.Background(),
		events.New(events.TypeAdsSpend, "test", map[string]interface{}{"amount": 7}))
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc{
		Type: events.TypeAdsSpend,
		Fn:   func(context.Context, *events.Event) (interface{}, error) { return nil, nil },
	}
	require.NoError(t, r.Register(h))
	assert.Error(t, r.Register(h))
}

func TestRegistryRejectsEmptyType(t *testing.T) {
	r := NewRegistry()
	err := r.Register(HandlerFunc{
		Fn: func(context.Context, *events.Event) (interface{}, error) { return nil, nil },
	})
	assert.Error(t, err)
}

func TestRegistryUnknownTypeIsNoOp(t *testing.T) {
	r := NewRegistry()
	result, err := r.Dispatch(context.Background(), events.New("unknown", "test", nil))
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRegistryPropagatesHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register(HandlerFunc{
		Type: events.TypeNotification,
		Fn:   func(context.Context, *events.Event) (interface{}, error) { return nil, boom },
	}))

	_, err := r.Dispatch(context.Background(), events.New(events.TypeNotification, "test", nil))
	assert.ErrorIs(t, err, boom)
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(HandlerFunc{
		Type: events.TypeAdsSpend,
		Fn:   func(context.Context, *events.Event) (interface{}, error) { return nil, nil },
	}))
	require.NoError(t, r.Register(HandlerFunc{
		Type: events.TypeNotification,
		Fn:   func(context.Context, *events.Event) (interface{}, error) { return nil, nil },
	}))

	assert.ElementsMatch(t, []string{events.TypeAdsSpend, events.TypeNotification}, r.Types())
}
