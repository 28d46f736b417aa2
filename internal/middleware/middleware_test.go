package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/identity"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	WriteAPISuccess(w, r, map[string]string{"request_id": GetRequestID(r.Context())})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequestIDIsSetAndPropagated(t *testing.T) {
	rec := httptest.NewRecorder()
	APIMiddleware(okHandler)(rec, httptest.NewRequest(http.MethodGet, "/api/catalog", nil))

	id := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, id, body["request_id"])
	assert.Equal(t, true, body["success"])

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	req.Header.Set("X-Request-ID", "till-7-retry")
	rec = httptest.NewRecorder()
	APIMiddleware(okHandler)(rec, req)
	assert.Equal(t, "till-7-retry", rec.Header().Get("X-Request-ID"))
}

func TestErrorHandlingRecoversPanics(t *testing.T) {
	rec := httptest.NewRecorder()
	APIMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "internal_error", body["code"])
}

func TestParseJSONRequest(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Kopi"}`))
	req.Header.Set("Content-Type", "application/json")
	require.NoError(t, ParseJSONRequest(httptest.NewRecorder(), req, &v))
	assert.Equal(t, "Kopi", v.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Kopi","extra":1}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Error(t, ParseJSONRequest(httptest.NewRecorder(), req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`name=Kopi`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Error(t, ParseJSONRequest(httptest.NewRecorder(), req, &v))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS("https://kasir.example")(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/checkout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://kasir.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func newTestAuth(t *testing.T, required bool) (*Authenticator, *identity.Verifier) {
	t.Helper()
	v, err := identity.NewVerifier("s3cret", "cafepos")
	require.NoError(t, err)
	return NewAuthenticator(v, required), v
}

func whoAmI(w http.ResponseWriter, r *http.Request) {
	op, _ := identity.FromContext(r.Context())
	WriteAPISuccess(w, r, map[string]string{"operator": op.ID})
}

func TestAuthenticate(t *testing.T) {
	auth, v := newTestAuth(t, false)
	token, err := v.Issue(identity.Operator{ID: "kasir-1", Roles: []string{identity.RoleCashier}}, time.Hour)
	require.NoError(t, err)

	t.Run("anonymous allowed when optional", func(t *testing.T) {
		rec := httptest.NewRecorder()
		auth.Authenticate(whoAmI)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("valid token sets operator", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		auth.Authenticate(whoAmI)(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeEnvelope(t, rec)["data"].(map[string]any)
		assert.Equal(t, "kasir-1", data["operator"])
	})

	t.Run("bad token refused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		auth.Authenticate(whoAmI)(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_token", decodeEnvelope(t, rec)["code"])
	})

	t.Run("missing token refused when required", func(t *testing.T) {
		required, _ := newTestAuth(t, true)
		rec := httptest.NewRecorder()
		required.Authenticate(whoAmI)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	auth, v := newTestAuth(t, false)
	cashier, err := v.Issue(identity.Operator{ID: "kasir-1", Roles: []string{identity.RoleCashier}}, time.Hour)
	require.NoError(t, err)
	admin, err := v.Issue(identity.Operator{ID: "owner", Roles: []string{identity.RoleAdmin}}, time.Hour)
	require.NoError(t, err)

	h := auth.Authenticate(auth.RequireRole(identity.RoleAdmin, whoAmI))

	call := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/catalog", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusForbidden, call(cashier))
	assert.Equal(t, http.StatusOK, call(admin))

	open := NewAuthenticator(nil, false)
	rec := httptest.NewRecorder()
	open.Authenticate(open.RequireRole(identity.RoleAdmin, whoAmI))(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "role checks are off without a verifier")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Limit(okHandler)

	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	rec := call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code, "other tills have their own bucket")
}

func TestRateLimiterSweep(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.limiter("10.0.0.1")
	now = now.Add(time.Minute)
	rl.limiter("10.0.0.2")
	now = now.Add(150 * time.Second)

	assert.Equal(t, 1, rl.sweep())
	assert.Len(t, rl.visitors, 1)
}
