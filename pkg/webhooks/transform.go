package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"text/template"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/observability"
)

// Transformer reshapes an event into the payload sent to a destination.
// Templates are data-only text/template programs evaluated against the
// event envelope; compiled templates are cached by owner ID and content
// hash. Any compile or execute error falls back to the canonical envelope
// JSON and is logged, never fatal.
type Transformer struct {
	cache  *lru.Cache[string, *template.Template]
	logger *observability.Logger
}

// NewTransformer creates a transformer with the given cache capacity
func NewTransformer(cacheSize int, logger *observability.Logger) (*Transformer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *template.Template](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}
	return &Transformer{cache: cache, logger: logger}, nil
}

// templateContext is what templates evaluate against. Data and Metadata
// are exposed directly; JSON pipes individual values back to JSON.
type templateContext struct {
	ID        string
	Type      string
	Source    string
	Timestamp string
	Data      map[string]interface{}
	Metadata  map[string]interface{}
}

var templateFuncs = template.FuncMap{
	"json": func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// Transform renders the payload for an event. ownerID scopes the cache
// (subscription or config ID); an empty template is the identity and
// returns the canonical envelope JSON.
func (t *Transformer) Transform(event *events.Event, ownerID, templateText string) []byte {
	envelope, err := json.Marshal(event)
	if err != nil {
		// The envelope is plain maps and strings; this does not happen
		// outside of caller bugs.
		t.logger.WithError(err).Error("failed to marshal event envelope")
		envelope = []byte("{}")
	}
	if templateText == "" {
		return envelope
	}

	tmpl, err := t.compile(ownerID, templateText)
	if err != nil {
		t.logger.WithError(err).WithField("owner_id", ownerID).Warn("template compile failed, using raw event")
		return envelope
	}

	var buf bytes.Buffer
	ctx := templateContext{
		ID:        event.ID,
		Type:      event.Type,
		Source:    event.Source,
		Timestamp: event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		Data:      event.Data,
		Metadata:  event.Metadata,
	}
	if err := tmpl.Execute(&buf, ctx); err != nil {
		t.logger.WithError(err).WithField("owner_id", ownerID).Warn("template execute failed, using raw event")
		return envelope
	}
	return buf.Bytes()
}

func (t *Transformer) compile(ownerID, text string) (*template.Template, error) {
	key := cacheKey(ownerID, text)
	if tmpl, ok := t.cache.Get(key); ok {
		return tmpl, nil
	}

	tmpl, err := template.New(ownerID).Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, tmpl)
	return tmpl, nil
}

func cacheKey(ownerID, text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%s#%x", ownerID, h.Sum64())
}
