package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, nil)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDMiddlewareAssignsID(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, observability.GetRequestID(r.Context()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDMiddlewarePreservesExisting(t *testing.T) {
	handler := RequestIDMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	handler := RecoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCIDRAllowlistMiddleware(t *testing.T) {
	allowed, err := ParseCIDRList("10.0.0.0/8")
	require.NoError(t, err)
	handler := CIDRAllowlistMiddleware(allowed, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4567"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:4567"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCIDRAllowlistAlwaysPermitsLoopback(t *testing.T) {
	allowed, err := ParseCIDRList("10.0.0.0/8")
	require.NoError(t, err)
	handler := CIDRAllowlistMiddleware(allowed, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:4567"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCIDRAllowlistEmptyDisablesCheck(t *testing.T) {
	handler := CIDRAllowlistMiddleware(nil, testLogger())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:4567"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseCIDRList(t *testing.T) {
	networks, err := ParseCIDRList("10.0.0.0/8, 192.168.0.0/16")
	require.NoError(t, err)
	assert.Len(t, networks, 2)

	_, err = ParseCIDRList("not-a-cidr")
	assert.Error(t, err)

	networks, err = ParseCIDRList("")
	require.NoError(t, err)
	assert.Nil(t, networks)
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&offset=20", nil)
	limit, offset := ParsePagination(req, 50, 500)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 20, offset)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, offset = ParsePagination(req, 50, 500)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)

	req = httptest.NewRequest(http.MethodGet, "/?limit=9999", nil)
	limit, _ = ParsePagination(req, 50, 500)
	assert.Equal(t, 500, limit)
}
