package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keyd/internal/config"
	"keyd/internal/domain"
	"keyd/internal/usecase"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func generate(t *testing.T, s *Server) domain.KeyID {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/keys", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode[generateKeyResponse](t, w).KeyID
}

func TestGreeting(t *testing.T) {
	s := newTestServer(t, config.Config{})
	w := doRequest(t, s, http.MethodGet, "/greeting", nil)
	if w.Code != http.StatusOK || w.Body.String() != "Welcome to RSA by Rest example" {
		t.Fatalf("unexpected greeting %d %q", w.Code, w.Body.String())
	}
}

func TestHealthzReportsMemoryAudit(t *testing.T) {
	s := newTestServer(t, config.Config{})
	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	got := decode[map[string]string](t, w)
	if got["status"] != "ok" || got["audit"] != "memory" {
		t.Fatalf("unexpected healthz %v", got)
	}
}

func TestKeyLifecycle(t *testing.T) {
	s := newTestServer(t, config.Config{})

	for want := domain.KeyID(1000); want <= 1002; want++ {
		if got := generate(t, s); got != want {
			t.Fatalf("expected key %d, got %d", want, got)
		}
	}

	w := doRequest(t, s, http.MethodDelete, "/keys/1001", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doRequest(t, s, http.MethodDelete, "/keys/1001", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
	errBody := decode[errorResponse](t, w)
	if errBody.Code != "KEY_NOT_FOUND" || errBody.Message != "Key not found" {
		t.Fatalf("unexpected error body %+v", errBody)
	}

	w = doRequest(t, s, http.MethodGet, "/keys", nil)
	list := decode[listKeysResponse](t, w)
	if len(list.Keys) != 2 || list.Keys[0] != 1000 || list.Keys[1] != 1002 {
		t.Fatalf("expected [1000 1002], got %v", list.Keys)
	}

	if got := generate(t, s); got != 1003 {
		t.Fatalf("ids must not be reused, got %d", got)
	}
}

func TestListKeysEmpty(t *testing.T) {
	s := newTestServer(t, config.Config{})
	w := doRequest(t, s, http.MethodGet, "/keys", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `{"keys":[]}` {
		t.Fatalf("unexpected body %d %s", w.Code, w.Body.String())
	}
}

func TestSignVerify(t *testing.T) {
	s := newTestServer(t, config.Config{})
	id := generate(t, s)
	other := generate(t, s)
	path := "/keys/" + id.String()

	w := doRequest(t, s, http.MethodPost, path+"/sign", map[string]string{"data": "hello world"})
	if w.Code != http.StatusOK {
		t.Fatalf("sign: %d %s", w.Code, w.Body.String())
	}
	signature := decode[signResponse](t, w).Signature
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(raw) != 256 {
		t.Fatalf("expected 256-byte standard base64 signature, got %q", signature)
	}

	w = doRequest(t, s, http.MethodPost, path+"/sign", map[string]string{"data": "hello world"})
	if again := decode[signResponse](t, w).Signature; again != signature {
		t.Fatal("signatures must be deterministic")
	}

	cases := []struct {
		name string
		path string
		data string
		want bool
	}{
		{name: "match", path: path, data: "hello world", want: true},
		{name: "wrong plaintext", path: path, data: "hello world!", want: false},
		{name: "wrong key", path: "/keys/" + other.String(), data: "hello world", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodPost, tc.path+"/verify", map[string]string{"data": tc.data, "signature": signature})
			if w.Code != http.StatusOK {
				t.Fatalf("verify: %d %s", w.Code, w.Body.String())
			}
			if got := decode[verifyResponse](t, w).Verified; got != tc.want {
				t.Fatalf("expected verified=%v, got %v", tc.want, got)
			}
		})
	}
}

func TestSignEmptyPlaintext(t *testing.T) {
	s := newTestServer(t, config.Config{})
	id := generate(t, s)

	w := doRequest(t, s, http.MethodPost, "/keys/"+id.String()+"/sign", map[string]string{"data": ""})
	if w.Code != http.StatusOK {
		t.Fatalf("empty plaintext must be signable, got %d", w.Code)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, config.Config{})
	id := generate(t, s)
	path := "/keys/" + id.String()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed signature", http.MethodPost, path + "/verify", map[string]string{"data": "x", "signature": "not base64!!"}, http.StatusBadRequest, "MALFORMED_SIGNATURE"},
		{"missing data on sign", http.MethodPost, path + "/sign", map[string]string{}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"null data on sign", http.MethodPost, path + "/sign", `{"data":null}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"missing signature", http.MethodPost, path + "/verify", map[string]string{"data": "x"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"invalid json", http.MethodPost, path + "/sign", `{"data":`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"non numeric id", http.MethodDelete, "/keys/abc", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"negative id", http.MethodPost, "/keys/-1/sign", map[string]string{"data": "x"}, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"sign unknown key", http.MethodPost, "/keys/999/sign", map[string]string{"data": "x"}, http.StatusNotFound, "KEY_NOT_FOUND"},
		{"verify unknown key", http.MethodPost, "/keys/999/verify", map[string]string{"data": "x", "signature": "!!"}, http.StatusNotFound, "KEY_NOT_FOUND"},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, s, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if got := decode[errorResponse](t, w).Code; got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/greeting", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	w = doRequest(t, s, http.MethodGet, "/greeting", nil)
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, config.Config{RateLimitRequests: 2, RateLimitWindowSeconds: 60})

	for i := 0; i < 2; i++ {
		w := doRequest(t, s, http.MethodGet, "/keys", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
		if w.Header().Get("RateLimit-Limit") != "2" {
			t.Fatalf("expected RateLimit-Limit header, got %q", w.Header().Get("RateLimit-Limit"))
		}
	}
	w := doRequest(t, s, http.MethodGet, "/keys", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if decode[errorResponse](t, w).Code != "RATE_LIMITED" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	// Separate routes have separate windows.
	w = doRequest(t, s, http.MethodGet, "/audit/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected audit route to be unaffected, got %d", w.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	return domain.RateLimitDecision{}, errors.New("limiter down")
}

func TestRateLimiterFailure(t *testing.T) {
	open := newTestServer(t, config.Config{RateLimitRequests: 1})
	open.rateLimiter = failingLimiter{}
	if w := doRequest(t, open, http.MethodGet, "/keys", nil); w.Code != http.StatusOK {
		t.Fatalf("expected fail open, got %d", w.Code)
	}

	closed := newTestServer(t, config.Config{RateLimitRequests: 1, RateLimitFailClosed: true})
	closed.rateLimiter = failingLimiter{}
	w := doRequest(t, closed, http.MethodGet, "/keys", nil)
	if w.Code != http.StatusTooManyRequests || decode[errorResponse](t, w).Code != "RATE_LIMIT_UNAVAILABLE" {
		t.Fatalf("expected fail closed, got %d %s", w.Code, w.Body.String())
	}
}

const denyDeletePolicy = `package keyd.policy

default allow = false

deny[{"code": "DELETE_DISABLED", "message": "key deletion is disabled"}] {
	input.operation == "delete"
}

allow {
	count(deny) == 0
}

result = {"allow": allow, "deny": [d | d := deny[_]]}
`

func TestPolicyDeny(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.rego")
	if err := os.WriteFile(path, []byte(denyDeletePolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	s := newTestServer(t, config.Config{PolicyPath: path})
	id := generate(t, s)

	w := doRequest(t, s, http.MethodDelete, "/keys/"+id.String(), nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	if body := decode[errorResponse](t, w); body.Code != "FORBIDDEN" || !strings.Contains(body.Message, "DELETE_DISABLED") {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestPolicyLoadFailure(t *testing.T) {
	_, err := NewServer(context.Background(), config.Config{PolicyPath: filepath.Join(t.TempDir(), "missing.rego")}, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing policy")
	}
}

func TestAuditEvents(t *testing.T) {
	s := newTestServer(t, config.Config{})
	id := generate(t, s)
	doRequest(t, s, http.MethodPost, "/keys/"+id.String()+"/sign", map[string]string{"data": "secret text"})
	doRequest(t, s, http.MethodDelete, "/keys/"+id.String(), nil)

	w := doRequest(t, s, http.MethodGet, "/audit/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret text") {
		t.Fatal("audit trail must not expose plaintext")
	}
	events := decode[auditEventsResponse](t, w).Events
	want := []domain.AuditEventType{domain.AuditEventKeyGenerated, domain.AuditEventPayloadSigned, domain.AuditEventKeyDeleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, event := range events {
		if event.EventType != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], event.EventType)
		}
	}

	w = doRequest(t, s, http.MethodGet, "/audit/events?after_seq=2&limit=10", nil)
	if events := decode[auditEventsResponse](t, w).Events; len(events) != 1 || events[0].Seq != 3 {
		t.Fatalf("expected only seq 3, got %+v", events)
	}

	w = doRequest(t, s, http.MethodGet, "/audit/events?limit=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.Config{})
	generate(t, s)
	doRequest(t, s, http.MethodDelete, "/keys/5", nil)

	w := doRequest(t, s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`keyd_operations_total{operation="generate",result="ok"} 1`,
		`keyd_operations_total{operation="delete",result="not_found"} 1`,
		`keyd_live_keys 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

type brokenRegistry struct{}

func (brokenRegistry) Generate(ctx context.Context) (domain.KeyID, error) {
	return 0, domain.ErrCryptoUnavailable
}
func (brokenRegistry) Delete(ctx context.Context, id domain.KeyID) bool { return false }
func (brokenRegistry) List(ctx context.Context) []domain.KeyID { return nil }
func (brokenRegistry) Sign(ctx context.Context, id domain.KeyID, plaintext string) (string, error) {
	return "", errors.New("boom")
}
func (brokenRegistry) Verify(ctx context.Context, id domain.KeyID, plaintext, signature string) (bool, error) {
	return false, domain.ErrKeyNotFound
}

func TestServerWithDepsErrorMapping(t *testing.T) {
	s := NewServerWithDeps(config.Config{}, ServerDeps{
		Keys:      &usecase.KeyService{Keys: brokenRegistry{}},
		AuditMode: "db",
	})

	w := doRequest(t, s, http.MethodPost, "/keys", nil)
	if w.Code != http.StatusServiceUnavailable || decode[errorResponse](t, w).Code != "CRYPTO_UNAVAILABLE" {
		t.Fatalf("expected 503 CRYPTO_UNAVAILABLE, got %d %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, http.MethodPost, "/keys/1000/sign", map[string]string{"data": "x"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if body := decode[errorResponse](t, w); body.Code != "INTERNAL" || strings.Contains(body.Message, "boom") {
		t.Fatalf("internal errors must not leak, got %+v", body)
	}

	w = doRequest(t, s, http.MethodGet, "/keys", nil)
	if strings.TrimSpace(w.Body.String()) != `{"keys":[]}` {
		t.Fatalf("nil list must render as empty array, got %s", w.Body.String())
	}

	w = doRequest(t, s, http.MethodGet, "/audit/events", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without audit trail, got %d", w.Code)
	}

	w = doRequest(t, s, http.MethodGet, "/healthz", nil)
	if got := decode[map[string]string](t, w)["audit"]; got != "db" {
		t.Fatalf("expected audit mode db, got %q", got)
	}

	if w := doRequest(t, s, http.MethodGet, "/metrics", nil); w.Code != http.StatusNotFound {
		t.Fatalf("metrics route requires a collector, got %d", w.Code)
	}
}
