package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/engine"
	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/listener"
	"github.com/jonwraymond/cachegate/plan"
	"github.com/jonwraymond/cachegate/quota"
)

const (
	acmeKey    = "ac_live_acme0001"
	globexKey  = "ac_live_globex01"
	tinyKey    = "ac_live_tiny0001"
	burstKey   = "ac_live_burst001"
	burstDemo  = "ac_demo_burst001"
	acmeAccess = "AKIDACME"
	acmeSecret = "acme-secret"
)

var t0 = time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type pageFetcher map[string]string

func (f pageFetcher) Fetch(_ context.Context, url string) (*listener.Page, error) {
	body, ok := f[url]
	if !ok {
		return nil, &listener.FetchError{URL: url, Status: http.StatusNotFound}
	}
	return &listener.Page{Body: []byte(body), ContentType: "text/html"}, nil
}

type harness struct {
	t       *testing.T
	clock   *testClock
	entries *cache.MemoryStore
	srv     *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{t: t0}

	catalog, err := plan.NewCatalog(append(plan.DefaultTiers(),
		plan.Tier{Name: "tiny", MonthlyQuota: 3, MinCheckInterval: time.Hour, MaxListeners: 1},
		plan.Tier{Name: "burst", RateLimitPerMinute: 2, MinCheckInterval: time.Hour},
	)...)
	require.NoError(t, err)

	accounts, err := auth.NewMemoryAccountStore(
		auth.Account{
			ID: "acme", PlanTier: plan.Pro, Namespaces: []string{"acme", "acme-*"},
			KeyHashes:  []string{auth.HashAPIKey(acmeKey)},
			AccessKeys: []auth.AccessKey{{ID: acmeAccess, Secret: acmeSecret}},
		},
		auth.Account{ID: "globex", PlanTier: plan.Pro, KeyHashes: []string{auth.HashAPIKey(globexKey)}},
		auth.Account{ID: "tiny", PlanTier: "tiny", KeyHashes: []string{auth.HashAPIKey(tinyKey)}},
		auth.Account{ID: "burst", PlanTier: "burst", KeyHashes: []string{auth.HashAPIKey(burstKey), auth.HashAPIKey(burstDemo)}},
	)
	require.NoError(t, err)

	guard := quota.NewGuard(quota.NewMemoryCounterStore(), quota.WithClock(clock.now))
	resolver := auth.NewResolver(catalog, []auth.Authenticator{
		auth.NewStaticKeyAuthenticator(accounts),
		auth.NewSigV4Authenticator(auth.SigV4Config{Now: clock.now}, accounts),
	}, auth.WithUsage(guard))

	entries := cache.NewMemoryStore()
	pages := pageFetcher{"https://example.com/pricing": "<html><body><p>Plan A: $10</p></body></html>"}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "cachegate_test_total"}))

	srv := New(Options{
		Engine:      engine.New(entries, engine.WithClock(clock.now)),
		Invalidator: invalidation.New(entries, invalidation.WithClock(clock.now)),
		Listeners:   listener.NewRegistry(listener.NewMemoryStore(), catalog, pages, listener.WithRegistryClock(clock.now)),
		Resolver:    resolver,
		Guard:       guard,
		Gatherer:    reg,
		Now:         clock.now,
	})
	return &harness{t: t, clock: clock, entries: entries, srv: srv}
}

func (h *harness) do(method, path, key string, body any, header ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(h.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(auth.HeaderAPIKey, key)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func descriptor(question, namespace string) map[string]any {
	d := map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"messages": []map[string]any{{"role": "user", "content": question}},
		"params":   map[string]any{"temperature": 0},
	}
	if namespace != "" {
		d["namespace"] = namespace
	}
	return d
}

func setBody(question, namespace string, ttl int, payload string) map[string]any {
	d := descriptor(question, namespace)
	d["payload"] = json.RawMessage(payload)
	if ttl != 0 {
		d["ttl"] = ttl
	}
	return d
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	return decodeBody[ErrorBody](t, rec).Error.Code
}

func TestServer_SetThenGet(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/cache/set", acmeKey, setBody("capital of France?", "", 3600, `{"answer":"Paris"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	set := decodeBody[setResponse](t, rec)
	assert.Equal(t, "acme", set.Namespace)
	assert.Equal(t, int64(3600), set.TTLSeconds)
	assert.Len(t, set.Fingerprint, cache.FingerprintLength)

	rec = h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("capital of France?", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[getResponse](t, rec)
	assert.True(t, got.Hit)
	assert.Equal(t, "fresh", got.Freshness)
	assert.Equal(t, set.Fingerprint, got.Fingerprint)
	assert.JSONEq(t, `{"answer":"Paris"}`, string(got.Payload))
	assert.Equal(t, int64(1), got.AccessCount)
	assert.Equal(t, "fresh", rec.Header().Get(FreshnessHeader))
	assert.Equal(t, "1000", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "998", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-Quota-Remaining"))
}

func TestServer_FreshnessOverTime(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/set", acmeKey, setBody("q", "", 3600, `"a"`)).Code)

	steps := []struct {
		at        time.Duration
		wantCode  int
		freshness string
	}{
		{2400 * time.Second, http.StatusOK, "fresh"},
		{2800 * time.Second, http.StatusOK, "stale"},
		{3600 * time.Second, http.StatusNotFound, "expired"},
	}
	elapsed := time.Duration(0)
	for _, st := range steps {
		h.clock.advance(st.at - elapsed)
		elapsed = st.at
		rec := h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("q", ""))
		assert.Equal(t, st.wantCode, rec.Code, "at %s", st.at)
		assert.Equal(t, st.freshness, rec.Header().Get(FreshnessHeader), "at %s", st.at)
	}
}

func TestServer_Miss(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("never stored", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, errorCode(t, rec))
}

func TestServer_Validation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		path string
		body any
	}{
		{"malformed json", "/cache/get", `{"provider":`},
		{"unknown field", "/cache/get", `{"provider":"openai","model":"m","messages":[{"role":"user","content":"x"}],"temprature":1}`},
		{"missing model", "/cache/get", map[string]any{"provider": "openai", "messages": []map[string]any{{"role": "user", "content": "x"}}}},
		{"empty payload", "/cache/set", descriptor("q", "")},
		{"negative ttl", "/cache/set", setBody("q", "", -5, `"a"`)},
		{"bad namespace", "/cache/get", descriptor("q", "has space")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, tt.path, acmeKey, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, CodeInvalidRequest, errorCode(t, rec))
		})
	}
	assert.Equal(t, 0, h.entries.Len())
}

func TestServer_NamespaceIsolation(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/set", acmeKey, setBody("q", "acme", 0, `"secret"`)).Code)

	rec := h.do(http.MethodPost, "/cache/get", globexKey, descriptor("q", "acme"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, errorCode(t, rec))

	rec = h.do(http.MethodPost, "/cache/get", globexKey, descriptor("q", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code, "globex default namespace must not see acme entries")

	rec = h.do(http.MethodPost, "/cache/set", globexKey, setBody("q", "acme-docs", 0, `"x"`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_NamespaceHeader(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/cache/set", acmeKey, setBody("q", "", 0, `"docs"`), NamespaceHeader, "acme-docs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme-docs", decodeBody[setResponse](t, rec).Namespace)

	assert.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("q", "acme-docs")).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("q", "")).Code)
}

func TestServer_Unauthenticated(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		key    string
		header []string
	}{
		{"no credential", "", nil},
		{"unknown prefix", "sk_live_acme0001", nil},
		{"unknown key", "ac_live_nobody", nil},
		{"ambiguous", acmeKey, []string{"Authorization", "Bearer " + acmeKey}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/cache/get", tt.key, descriptor("q", ""), tt.header...)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, CodeUnauthenticated, errorCode(t, rec))
		})
	}

	rec := h.do(http.MethodGet, "/stats", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decodeBody[statsResponse](t, rec).Usage.MonthlyUsed, "failed auth must not count")
}

func TestServer_BearerKey(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/cache/get", "", descriptor("q", ""), "Authorization", "Bearer "+acmeKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_QuotaExceeded(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		rec := h.do(http.MethodPost, "/cache/get", tinyKey, descriptor("q", ""))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := h.do(http.MethodPost, "/cache/get", tinyKey, descriptor("q", ""))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody[ErrorBody](t, rec).Error
	assert.Equal(t, CodeQuotaExceeded, body.Code)
	assert.Equal(t, int64(3), body.Limit)
	require.NotNil(t, body.ResetAt)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *body.ResetAt)
	assert.Equal(t, "2026-04-01T00:00:00Z", rec.Header().Get("X-Quota-Reset"))

	rec = h.do(http.MethodGet, "/stats", tinyKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "stats is not metered")

	h.clock.advance(time.Hour)
	rec = h.do(http.MethodPost, "/cache/get", tinyKey, descriptor("q", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code, "new month resets the quota")
}

func TestServer_RateLimited(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/cache/get", burstKey, descriptor("q", "")).Code)
	}
	rec := h.do(http.MethodPost, "/cache/get", burstKey, descriptor("q", ""))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody[ErrorBody](t, rec).Error
	assert.Equal(t, CodeRateLimited, body.Code)
	assert.Equal(t, int64(2), body.Limit)
	assert.Positive(t, body.RetryAfterSeconds)
	assert.Equal(t, fmt.Sprint(body.RetryAfterSeconds), rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		rec := h.do(http.MethodPost, "/cache/get", burstDemo, descriptor("q", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code, "demo keys have no per-minute limit")
	}
}

func TestServer_Invalidate(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/set", acmeKey, setBody(q, "acme", 0, `"x"`)).Code)
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/set", acmeKey, setBody("d", "acme-docs", 0, `"x"`)).Code)
	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/cache/set", globexKey, setBody("g", "", 0, `"x"`)).Code)

	rec := h.do(http.MethodPost, "/cache/invalidate", acmeKey, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5, h.entries.Len(), "empty criteria must delete nothing")

	rec = h.do(http.MethodPost, "/cache/invalidate", acmeKey, map[string]any{"namespace": "globex"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/cache/invalidate", acmeKey, map[string]any{"namespace": "acme", "reason": "pricing change"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[invalidation.Result](t, rec)
	assert.Equal(t, 3, res.Invalidated)
	assert.Equal(t, []string{"acme"}, res.Namespaces)
	assert.InDelta(t, 0.006, res.EstimatedCostImpact, 1e-9)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("a", "acme")).Code)

	h.clock.advance(2 * time.Minute)
	rec = h.do(http.MethodPost, "/cache/invalidate", acmeKey, map[string]any{"olderThan": "1m"})
	require.Equal(t, http.StatusOK, rec.Code)
	res = decodeBody[invalidation.Result](t, rec)
	assert.Equal(t, 1, res.Invalidated, "age criterion stays inside the caller's namespaces")
	assert.Equal(t, []string{"acme-docs"}, res.Namespaces)
	assert.Equal(t, 1, h.entries.Len())

	rec = h.do(http.MethodPost, "/cache/invalidate", acmeKey, map[string]any{"namespace": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[invalidation.Result](t, rec).Invalidated)
}

func TestServer_Listeners(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/listeners", acmeKey, map[string]any{"url": "https://example.com/pricing", "checkInterval": 900})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		ListenerID  string `json:"listenerId"`
		InitialHash string `json:"initialHash"`
		Listener    struct {
			Namespace          string `json:"namespace"`
			State              string `json:"state"`
			CheckInterval      int64  `json:"checkInterval"`
			InvalidateOnChange bool   `json:"invalidateOnChange"`
		} `json:"listener"`
	}](t, rec)
	assert.True(t, strings.HasPrefix(created.ListenerID, "lst_"))
	assert.Len(t, created.InitialHash, 64)
	assert.Equal(t, "acme", created.Listener.Namespace)
	assert.Equal(t, "active", created.Listener.State)
	assert.Equal(t, int64(900), created.Listener.CheckInterval)
	assert.True(t, created.Listener.InvalidateOnChange)

	bad := []map[string]any{
		{"url": "https://example.com/pricing", "checkInterval": 60},
		{"url": "ftp://example.com/file"},
		{"url": "https://example.com/pricing", "webhook": "not a url"},
	}
	for _, b := range bad {
		rec := h.do(http.MethodPost, "/listeners", acmeKey, b)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%v: %s", b, rec.Body.String())
	}

	rec = h.do(http.MethodGet, "/listeners", acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Listeners []json.RawMessage `json:"listeners"`
	}](t, rec)
	assert.Len(t, list.Listeners, 1)

	path := "/listeners/" + created.ListenerID
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, path, acmeKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, path, globexKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, path, globexKey, nil).Code)

	rec = h.do(http.MethodDelete, path, acmeKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", decodeBody[map[string]any](t, rec)["state"])
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, path, acmeKey, nil).Code)

	rec = h.do(http.MethodGet, "/listeners", globexKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"listeners":[]}`, rec.Body.String())
}

func TestServer_ListenerLimit(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"url": "https://example.com/pricing"}
	require.Equal(t, http.StatusCreated, h.do(http.MethodPost, "/listeners", tinyKey, body).Code)
	rec := h.do(http.MethodPost, "/listeners", tinyKey, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeListenerLimit, errorCode(t, rec))
}

func TestServer_SignedRequest(t *testing.T) {
	h := newHarness(t)
	body, err := json.Marshal(setBody("signed", "", 0, `{"ok":true}`))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "http://cachegate.test/cache/set", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	provider := credentials.NewStaticCredentialsProvider(acmeAccess, acmeSecret, "")
	require.NoError(t, auth.SignRequest(context.Background(), req, body, provider, "us-east-1", h.clock.now()))

	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The same entry is visible through the static key: both schemes
	// resolve to the same principal.
	rec = h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("signed", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[statsResponse](t, h.do(http.MethodGet, "/stats", acmeKey, nil))
	assert.Equal(t, int64(2), stats.Usage.MonthlyUsed)
	assert.Equal(t, "static_key", stats.CredentialKind)
}

func TestServer_SignedRequestOutsideWindow(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "http://cachegate.test/cache/get", bytes.NewReader(body))
	provider := credentials.NewStaticCredentialsProvider(acmeAccess, acmeSecret, "")
	require.NoError(t, auth.SignRequest(context.Background(), req, body, provider, "us-east-1", h.clock.now().Add(-10*time.Minute)))

	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/cache/get", acmeKey, descriptor("q", ""))
	h.do(http.MethodPost, "/listeners", acmeKey, map[string]any{"url": "https://example.com/pricing"})

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodGet, "/stats", acmeKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		stats := decodeBody[statsResponse](t, rec)
		assert.Equal(t, "acme", stats.Principal)
		assert.Equal(t, plan.Pro, stats.Plan)
		assert.Equal(t, int64(2), stats.Usage.MonthlyUsed)
		require.NotNil(t, stats.Listeners)
		assert.Equal(t, 1, *stats.Listeners)
	}
}

func TestServer_OperationalRoutes(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cachegate_test_total")

	rec = h.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
