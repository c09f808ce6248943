package webhooks

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACValidatorAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"amount":100}`)
	v := &HMACValidator{Secret: "topsecret"}

	header := http.Header{}
	header.Set(HeaderSignature, ComputeHMAC("topsecret", body))

	assert.NoError(t, v.Validate(body, header))
}

func TestHMACValidatorRejectsForgedSignature(t *testing.T) {
	body := []byte(`{"amount":100}`)
	v := &HMACValidator{Secret: "topsecret"}

	header := http.Header{}
	header.Set(HeaderSignature, ComputeHMAC("wrong-secret", body))

	assert.ErrorIs(t, v.Validate(body, header), ErrInvalidSignature)
}

func TestHMACValidatorRejectsMissingSignature(t *testing.T) {
	v := &HMACValidator{Secret: "topsecret"}
	assert.ErrorIs(t, v.Validate([]byte(`{}`), http.Header{}), ErrInvalidSignature)
}

func TestHMACValidatorRejectsTamperedBody(t *testing.T) {
	v := &HMACValidator{Secret: "topsecret"}

	header := http.Header{}
	header.Set(HeaderSignature, ComputeHMAC("topsecret", []byte(`{"amount":100}`)))

	assert.ErrorIs(t, v.Validate([]byte(`{"amount":999}`), header), ErrInvalidSignature)
}

func TestHMACValidatorTimestampedSignature(t *testing.T) {
	now := time.Now()
	body := []byte(`{"amount":100}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &HMACValidator{
		Secret:    "topsecret",
		Tolerance: 5 * time.Minute,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set(HeaderTimestamp, ts)
	header.Set(HeaderSignature, ComputeHMAC("topsecret", []byte(ts+"."+string(body))))

	assert.NoError(t, v.Validate(body, header))
}

func TestHMACValidatorRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	body := []byte(`{"amount":100}`)
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)

	v := &HMACValidator{
		Secret:    "topsecret",
		Tolerance: 5 * time.Minute,
		Now:       func() time.Time { return now },
	}

	header := http.Header{}
	header.Set(HeaderTimestamp, stale)
	header.Set(HeaderSignature, ComputeHMAC("topsecret", []byte(stale+"."+string(body))))

	assert.ErrorIs(t, v.Validate(body, header), ErrInvalidSignature)
}

func TestHMACValidatorRejectsMalformedTimestamp(t *testing.T) {
	v := &HMACValidator{Secret: "topsecret", Tolerance: 5 * time.Minute}

	header := http.Header{}
	header.Set(HeaderTimestamp, "not-a-number")
	header.Set(HeaderSignature, "whatever")

	assert.ErrorIs(t, v.Validate([]byte(`{}`), header), ErrInvalidSignature)
}

func TestJWTValidatorRoundTrip(t *testing.T) {
	secret := "jwt-signing-key"
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "partner",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	v := &JWTValidator{Secret: secret, Issuer: "partner"}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signed)

	assert.NoError(t, v.Validate(nil, header))
}

func TestJWTValidatorRejectsWrongKey(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := token.SignedString([]byte("other-key"))
	require.NoError(t, err)

	v := &JWTValidator{Secret: "jwt-signing-key"}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signed)

	assert.ErrorIs(t, v.Validate(nil, header), ErrInvalidSignature)
}

func TestJWTValidatorRejectsMissingToken(t *testing.T) {
	v := &JWTValidator{Secret: "jwt-signing-key"}
	assert.ErrorIs(t, v.Validate(nil, http.Header{}), ErrInvalidSignature)
}

func TestValidatorForLevels(t *testing.T) {
	sc := SecurityConfig{Secret: "s"}

	assert.IsType(t, &HMACValidator{}, ValidatorFor(SecurityHMAC, sc, time.Minute))
	assert.IsType(t, &JWTValidator{}, ValidatorFor(SecurityJWT, sc, time.Minute))
	assert.IsType(t, &JWTValidator{}, ValidatorFor(SecurityOAuth, sc, time.Minute))
	assert.IsType(t, NoneValidator{}, ValidatorFor(SecurityNone, sc, time.Minute))
}

func TestSignerHMAC(t *testing.T) {
	payload := []byte(`{"a":1}`)
	cfg := &WebhookConfig{
		ID:             "wh-1",
		SecurityLevel:  SecurityHMAC,
		SecurityConfig: SecurityConfig{Secret: "outbound-secret"},
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, NewSigner().Sign(req.Context(), req, cfg, payload))

	assert.Equal(t, ComputeHMAC("outbound-secret", payload), req.Header.Get(HeaderSignature))
}

func TestSignerJWT(t *testing.T) {
	cfg := &WebhookConfig{
		ID:             "wh-1",
		SecurityLevel:  SecurityJWT,
		SecurityConfig: SecurityConfig{Secret: "jwt-key", Audience: "receiver"},
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, NewSigner().Sign(req.Context(), req, cfg, nil))

	v := &JWTValidator{Secret: "jwt-key", Audience: "receiver"}
	assert.NoError(t, v.Validate(nil, req.Header))
}

func TestSignerOAuthFetchesToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	cfg := &WebhookConfig{
		ID:            "wh-1",
		SecurityLevel: SecurityOAuth,
		SecurityConfig: SecurityConfig{
			TokenURL:     tokenServer.URL,
			ClientID:     "client",
			ClientSecret: "secret",
		},
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, NewSigner().Sign(req.Context(), req, cfg, nil))

	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
}

func TestSignerNone(t *testing.T) {
	cfg := &WebhookConfig{ID: "wh-1", SecurityLevel: SecurityNone}
	req := httptest.NewRequest(http.MethodPost, "http://example.com", nil)
	require.NoError(t, NewSigner().Sign(req.Context(), req, cfg, nil))
	assert.Empty(t, req.Header.Get(HeaderSignature))
	assert.Empty(t, req.Header.Get("Authorization"))
}
