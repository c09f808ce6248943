package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDelivery(t *testing.T) {
	metrics := NewNopMetrics()

	metrics.ObserveDelivery("ads_spend", "wh-1", "delivered", 20*time.Millisecond)
	metrics.ObserveDelivery("ads_spend", "wh-1", "delivered", 30*time.Millisecond)
	metrics.ObserveDelivery("ads_spend", "wh-1", "failed", 10*time.Millisecond)

	delivered := testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("ads_spend", "wh-1", "delivered"))
	if delivered != 2 {
		t.Errorf("Expected 2 delivered, got %f", delivered)
	}
	failed := testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("ads_spend", "wh-1", "failed"))
	if failed != 1 {
		t.Errorf("Expected 1 failed, got %f", failed)
	}
}

func TestObserveStorageOperation(t *testing.T) {
	metrics := NewNopMetrics()

	metrics.ObserveStorageOperation("store_event", "sql", nil, time.Millisecond)
	metrics.ObserveStorageOperation("store_event", "sql", errors.New("boom"), time.Millisecond)

	success := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("store_event", "sql", "success"))
	if success != 1 {
		t.Errorf("Expected 1 success, got %f", success)
	}
	failure := testutil.ToFloat64(metrics.StorageOperationsTotal.WithLabelValues("store_event", "sql", "error"))
	if failure != 1 {
		t.Errorf("Expected 1 error, got %f", failure)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.EventsReceivedTotal.WithLabelValues("ads_spend", "http", "ok").Inc()

	srv := httptest.NewServer(Handler(registry))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Failed to scrape metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "hookrelay_events_received_total") {
		t.Error("Expected events counter in scrape output")
	}
}
