package webhooks

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dealerhub/hookrelay/pkg/events"
	"github.com/dealerhub/hookrelay/pkg/httputil"
	"github.com/dealerhub/hookrelay/pkg/observability"
)

const maxInboundBody = 1 << 20

// HTTPHandler exposes the engine over HTTP: the inbound receiver
// endpoints plus the management API for configs, subscriptions, events
// and delivery logs.
type HTTPHandler struct {
	service *Service
	logger  *observability.Logger
	metrics *observability.Metrics
	allowed []*net.IPNet

	// MaxBodyBytes overrides the default inbound body limit when positive
	MaxBodyBytes int64
}

func NewHTTPHandler(service *Service, logger *observability.Logger, metrics *observability.Metrics, allowed []*net.IPNet) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		logger:  logger,
		metrics: metrics,
		allowed: allowed,
	}
}

// RegisterRoutes wires all endpoints onto the router
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	maxBody := h.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxInboundBody
	}
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.RecoveryMiddleware(h.logger))
	router.Use(httputil.LoggingMiddleware(h.logger, h.metrics))
	router.Use(httputil.MaxBytesMiddleware(maxBody))
	router.Use(httputil.CIDRAllowlistMiddleware(h.allowed, h.logger))

	// inbound receivers
	router.HandleFunc("/webhooks/ads/spend", h.receiveAs(events.TypeAdsSpend)).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/system/diagnostic", h.receiveAs(events.TypeSystemDiagnostic)).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/notification", h.receiveAs(events.TypeNotification)).Methods(http.MethodPost)

	// management API; registered before the generic receiver so
	// /webhooks/config is never ingested as an event type
	router.HandleFunc("/webhooks/config", h.createConfig).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/config", h.listConfigs).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/config/{id}", h.getConfig).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/config/{id}", h.updateConfig).Methods(http.MethodPut)
	router.HandleFunc("/webhooks/config/{id}", h.deleteConfig).Methods(http.MethodDelete)
	router.HandleFunc("/webhooks/subscribe", h.createSubscription).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/logs", h.listLogs).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/events/{id}", h.getEvent).Methods(http.MethodGet)

	// generic receiver last so the fixed paths above win
	router.HandleFunc("/webhooks/{type}", h.receive).Methods(http.MethodPost)
}

// receive ingests an event whose type comes from the URL path
func (h *HTTPHandler) receive(w http.ResponseWriter, r *http.Request) {
	eventType, ok := httputil.ParsePathStringOrError(w, r, "type")
	if !ok {
		return
	}
	h.ingest(w, r, eventType)
}

func (h *HTTPHandler) receiveAs(eventType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ingest(w, r, eventType)
	}
}

func (h *HTTPHandler) ingest(w http.ResponseWriter, r *http.Request, eventType string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if err := h.service.ValidateInbound(r.Context(), body, r.Header, eventType); err != nil {
		h.logger.WithError(err).WithField("event_type", eventType).
			Warn("inbound signature validation failed")
		httputil.WriteUnauthorized(w, "Invalid webhook signature")
		return
	}

	var data map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			httputil.WriteBadRequest(w, "request body must be a JSON object")
			return
		}
	}

	event := events.New(eventType, httputil.ParseQueryString(r, "source", "http"), data)
	if id := r.Header.Get(HeaderEventID); id != "" {
		event.ID = id
	}
	if ts := r.Header.Get(HeaderTimestamp); ts != "" {
		// unix seconds, same format the HMAC validator checks
		if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
			event.Timestamp = time.Unix(unix, 0).UTC()
		}
	}

	result, err := h.service.Ingest(r.Context(), event)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if result == nil {
		result = map[string]string{"event_id": event.ID, "status": "accepted"}
	}
	httputil.WriteResult(w, result)
}

func (h *HTTPHandler) createConfig(w http.ResponseWriter, r *http.Request) {
	var cfg WebhookConfig
	if !httputil.ParseJSONOrError(w, r, &cfg) {
		return
	}
	if err := h.service.CreateConfig(r.Context(), &cfg); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteCreated(w, &cfg)
}

func (h *HTTPHandler) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.service.ListConfigs(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"configs": configs})
}

func (h *HTTPHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	cfg, err := h.service.GetConfig(r.Context(), id)
	if err != nil {
		if err == ErrNotFound {
			httputil.WriteNotFound(w, "webhook config not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cfg)
}

func (h *HTTPHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var cfg WebhookConfig
	if !httputil.ParseJSONOrError(w, r, &cfg) {
		return
	}
	cfg.ID = id
	if err := h.service.UpdateConfig(r.Context(), &cfg); err != nil {
		if err == ErrNotFound {
			httputil.WriteNotFound(w, "webhook config not found")
			return
		}
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &cfg)
}

func (h *HTTPHandler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteConfig(r.Context(), id); err != nil {
		if err == ErrNotFound {
			httputil.WriteNotFound(w, "webhook config not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *HTTPHandler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var sub Subscription
	if !httputil.ParseJSONOrError(w, r, &sub) {
		return
	}
	if err := h.service.CreateSubscription(r.Context(), &sub); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteCreated(w, &sub)
}

func (h *HTTPHandler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubscriptions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (h *HTTPHandler) listLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.ParsePagination(r, 50, 500)
	filter := LogFilter{
		WebhookID: httputil.ParseQueryString(r, "webhook_id", ""),
		EventID:   httputil.ParseQueryString(r, "event_id", ""),
		Status:    DeliveryStatus(httputil.ParseQueryString(r, "status", "")),
		Direction: DeliveryDirection(httputil.ParseQueryString(r, "direction", "")),
		Limit:     limit,
		Offset:    offset,
	}
	logs, err := h.service.ListLogs(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if logs == nil {
		logs = []*DeliveryLog{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (h *HTTPHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.ParsePagination(r, 50, 500)
	filter := EventFilter{
		Type:   httputil.ParseQueryString(r, "type", ""),
		Source: httputil.ParseQueryString(r, "source", ""),
		Limit:  limit,
		Offset: offset,
	}
	list, err := h.service.ListEvents(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if list == nil {
		list = []*events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": list})
}

func (h *HTTPHandler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	event, err := h.service.GetEvent(r.Context(), id)
	if err != nil {
		if err == ErrNotFound {
			httputil.WriteNotFound(w, "event not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}
