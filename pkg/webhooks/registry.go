package webhooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/dealerhub/hookrelay/pkg/events"
)

// Handler processes one event type after signature validation and
// storage. The returned value is included in the receiver response.
type Handler interface {
	EventType() string
	Handle(ctx context.Context, event *events.Event) (interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc struct {
	Type string
	Fn   func(ctx context.Context, event *events.Event) (interface{}, error)
}

func (h HandlerFunc) EventType() string { return h.Type }

func (h HandlerFunc) Handle(ctx context.Context, event *events.Event) (interface{}, error) {
	return h.Fn(ctx, event)
}

// Registry maps event types to handlers. Registration normally happens
// at startup; the mutex makes concurrent use safe either way.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler, rejecting duplicate event types
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eventType := h.EventType()
	if eventType == "" {
		return fmt.Errorf("handler has empty event type")
	}
	if _, exists := r.handlers[eventType]; exists {
		return fmt.Errorf("handler already registered for event type %q", eventType)
	}
	r.handlers[eventType] = h
	return nil
}

// Dispatch invokes the handler for the event's type. Events with no
// registered handler are accepted without processing.
func (r *Registry) Dispatch(ctx context.Context, event *events.Event) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[event.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return h.Handle(ctx, event)
}

// Types returns the registered event types
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
