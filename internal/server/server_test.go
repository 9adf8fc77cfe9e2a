package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dee-identity/dee_registry/internal/auth"
	"github.com/dee-identity/dee_registry/internal/config"
	"github.com/dee-identity/dee_registry/internal/logging"
)

const (
	owner  = "0xowner"
	alice  = "0xA11CE"
	bob    = "0xB0B"
	secret = "test-secret"
)

func testConfig() config.Config {
	return config.Config{
		AppName:             "DEERegistryTest",
		AppEnv:              "test",
		Port:                "0",
		JWTSecret:           secret,
		IdempotencyTTL:      time.Minute,
		OwnerAddress:        owner,
		RateLimitCooldown:   time.Minute,
		RateLimitDeactivate: true,
		HashPolicy:          config.HashPolicyLenient,
		MaxPageSize:         50,
		CredentialBaseURI:   "https://dee.example/credentials/",
		EventStream:         "dee:events",
	}
}

type client struct {
	t   *testing.T
	srv *Server
}

func (c client) do(method, path, actor, body string) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	return c.send(req)
}

func (c client) send(req *http.Request) (int, map[string]any) {
	c.t.Helper()
	resp, err := c.srv.App().Test(req, -1)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			c.t.Fatalf("decode %s %s: %v (%s)", req.Method, req.URL.Path, err, raw)
		}
	}
	return resp.StatusCode, out
}

func newTestServer(t *testing.T, withRedis bool) client {
	t.Helper()
	var cache *redis.Client
	if withRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("start miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		cache = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { cache.Close() })
	}
	srv, err := New(context.Background(), testConfig(), nil, cache, logging.Discard())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return client{t: t, srv: srv}
}

func TestRegistryAndLedgerOverHTTP(t *testing.T) {
	c := newTestServer(t, false)

	status, body := c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":"QmTest123"}`)
	if status != http.StatusCreated || body["did"] != "did:dee:0xa11ce" {
		t.Fatalf("create: %d %v", status, body)
	}

	status, body = c.do(http.MethodGet, "/api/v1/dids/"+alice, "", "")
	if status != http.StatusOK || body["doc_hash"] != "QmTest123" || body["active"] != true {
		t.Fatalf("resolve: %d %v", status, body)
	}

	status, body = c.do(http.MethodPut, "/api/v1/dids/me", alice, `{"doc_hash":"QmTest456"}`)
	if status != http.StatusTooManyRequests || body["kind"] != "rate_limited" {
		t.Fatalf("expected rate limited update, got %d %v", status, body)
	}

	status, body = c.do(http.MethodGet, "/api/v1/dids/0x0000000000000000000000000000000000000000", "", "")
	if status != http.StatusNotFound || body["kind"] != "not_found" {
		t.Fatalf("expected not found, got %d %v", status, body)
	}

	status, body = c.do(http.MethodPost, "/api/v1/credentials", owner, `{"holder":"0xA11CE","doc_hash":"ipfs://credential-hash","credential_type":"Bachelor_Degree"}`)
	if status != http.StatusCreated || body["token_id"] != float64(1) {
		t.Fatalf("mint: %d %v", status, body)
	}
	status, body = c.do(http.MethodPost, "/api/v1/credentials", owner, `{"holder":"0xB0B","doc_hash":"ipfs://credential-hash","credential_type":"Bachelor_Degree"}`)
	if status != http.StatusNotFound || body["kind"] != "did_not_found" {
		t.Fatalf("expected did_not_found, got %d %v", status, body)
	}
	status, body = c.do(http.MethodGet, "/api/v1/credentials/1/owner", "", "")
	if status != http.StatusOK || body["holder"] != alice {
		t.Fatalf("owner of: %d %v", status, body)
	}
	status, body = c.do(http.MethodGet, "/api/v1/credentials/1/uri", "", "")
	if status != http.StatusOK || body["uri"] != "https://dee.example/credentials/1" {
		t.Fatalf("token uri: %d %v", status, body)
	}
	status, body = c.do(http.MethodGet, "/api/v1/credentials/abc", "", "")
	if status != http.StatusBadRequest {
		t.Fatalf("expected bad request for malformed token id, got %d %v", status, body)
	}

	status, body = c.do(http.MethodPost, "/api/v1/dids/batch", alice, `{"identities":["0xC4R0L"],"doc_hashes":["QmHash"]}`)
	if status != http.StatusForbidden || body["kind"] != "unauthorized" {
		t.Fatalf("expected unauthorized batch, got %d %v", status, body)
	}
	status, body = c.do(http.MethodPost, "/api/v1/dids/batch", owner, `{"identities":["0xC4R0L","0xD4VE"],"doc_hashes":["QmHash"]}`)
	if status != http.StatusBadRequest || body["kind"] != "length_mismatch" {
		t.Fatalf("expected length mismatch, got %d %v", status, body)
	}

	status, body = c.do(http.MethodGet, "/api/v1/dids/stats", "", "")
	if status != http.StatusOK || body["total_dids"] != float64(1) || body["active_dids"] != float64(1) {
		t.Fatalf("stats: %d %v", status, body)
	}
}

func TestPauseOverHTTP(t *testing.T) {
	c := newTestServer(t, false)

	status, body := c.do(http.MethodPost, "/api/v1/admin/pause", alice, "")
	if status != http.StatusForbidden {
		t.Fatalf("expected non-admin pause to fail, got %d %v", status, body)
	}
	status, body = c.do(http.MethodPost, "/api/v1/admin/pause", owner, "")
	if status != http.StatusOK || body["state"] != "paused" {
		t.Fatalf("pause: %d %v", status, body)
	}

	status, body = c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":"QmTest123"}`)
	if status != http.StatusLocked || body["kind"] != "contract_paused" {
		t.Fatalf("expected contract paused, got %d %v", status, body)
	}
	status, body = c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":""}`)
	if status != http.StatusLocked || body["kind"] != "contract_paused" {
		t.Fatalf("expected contract paused for empty hash, got %d %v", status, body)
	}
	if status, _ = c.do(http.MethodGet, "/api/v1/dids", "", ""); status != http.StatusOK {
		t.Fatalf("reads must succeed while paused, got %d", status)
	}

	status, body = c.do(http.MethodPost, "/api/v1/admin/unpause", owner, "")
	if status != http.StatusOK || body["state"] != "active" {
		t.Fatalf("unpause: %d %v", status, body)
	}
	if status, body = c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":"QmTest123"}`); status != http.StatusCreated {
		t.Fatalf("create after unpause: %d %v", status, body)
	}
}

func TestBearerTokenIdentifiesCaller(t *testing.T) {
	c := newTestServer(t, false)

	token, err := auth.IssueActorToken([]byte(secret), bob, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dids", strings.NewReader(`{"doc_hash":"QmTest789"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	status, body := c.send(req)
	if status != http.StatusCreated || body["identity"] != bob {
		t.Fatalf("create with bearer: %d %v", status, body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/dids", strings.NewReader(`{"doc_hash":"QmTest789"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer not-a-token")
	if status, _ := c.send(req); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", status)
	}

	status, body = c.do(http.MethodPost, "/api/v1/dids", "", `{"doc_hash":"QmTest789"}`)
	if status != http.StatusForbidden || body["kind"] != "unauthorized" {
		t.Fatalf("expected anonymous create to be rejected, got %d %v", status, body)
	}
}

func TestEventsFeedAndRedisStream(t *testing.T) {
	c := newTestServer(t, true)

	if status, body := c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":"QmTest123"}`); status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, body)
	}
	if status, body := c.do(http.MethodPost, "/api/v1/roles/issuer/members", owner, `{"actor":"0xB0B"}`); status != http.StatusNoContent {
		t.Fatalf("grant: %d %v", status, body)
	}

	status, body := c.do(http.MethodGet, "/api/v1/events?since=0&limit=10", "", "")
	if status != http.StatusOK {
		t.Fatalf("events: %d %v", status, body)
	}
	evs, _ := body["events"].([]any)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(evs), body)
	}
	first := evs[0].(map[string]any)
	if first["name"] != "DIDCreated" || first["seq"] != float64(1) {
		t.Fatalf("unexpected first event %v", first)
	}
	if body["next"] != float64(3) {
		t.Fatalf("expected next cursor 3, got %v", body["next"])
	}

	status, body = c.do(http.MethodGet, "/api/v1/events?since=3", "", "")
	if evs, _ := body["events"].([]any); status != http.StatusOK || len(evs) != 0 {
		t.Fatalf("expected empty page after cursor, got %d %v", status, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	c := newTestServer(t, true)

	status, body := c.do(http.MethodGet, "/healthz", "", "")
	if status != http.StatusOK {
		t.Fatalf("healthz: %d %v", status, body)
	}
	st := body["status"].(map[string]any)
	if st["postgres"] != "memory" || st["redis"] != "ok" {
		t.Fatalf("unexpected health %v", st)
	}

	c.do(http.MethodPost, "/api/v1/dids", alice, `{"doc_hash":"QmTest123"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := c.srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `dee_operations_total{operation="createDID",result="ok"} 1`) {
		t.Fatalf("unexpected metrics output: %d\n%s", resp.StatusCode, raw)
	}
}

func TestIdempotentReplayOverHTTP(t *testing.T) {
	c := newTestServer(t, true)

	send := func() (int, string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/dids", strings.NewReader(`{"doc_hash":"QmTest123"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Actor", alice)
		req.Header.Set("Idempotency-Key", "create-1")
		resp, err := c.srv.App().Test(req, -1)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		return resp.StatusCode, resp.Header.Get("Idempotent-Replayed")
	}

	if status, replay := send(); status != http.StatusCreated || replay != "" {
		t.Fatalf("first request: %d replay=%q", status, replay)
	}
	if status, replay := send(); status != http.StatusCreated || replay != "true" {
		t.Fatalf("expected replayed 201, got %d replay=%q", status, replay)
	}
}
