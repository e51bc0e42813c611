package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/config"
	"github.com/postwave/postwave/internal/ratelimit"
	"github.com/postwave/postwave/internal/store"
	"github.com/postwave/postwave/internal/suppress"
	"github.com/postwave/postwave/internal/verify"
)

// fakeRunner reports success for every recipient unless failFor matches.
type fakeRunner struct {
	failFor map[string]string
	calls   int
	lastCtx context.Context
}

func (f *fakeRunner) Send(ctx context.Context, campaignID string, recipients []campaign.Recipient, tmpl campaign.Template, opts campaign.Options) (*campaign.Summary, error) {
	f.calls++
	f.lastCtx = ctx

	summary := &campaign.Summary{Total: len(recipients)}
	for _, rcpt := range recipients {
		result := campaign.SendResult{Email: rcpt.Email, Status: campaign.StatusSuccess}
		if msg, ok := f.failFor[rcpt.Email]; ok {
			result.Status = campaign.StatusError
			result.Error = msg
			summary.Failed++
		} else {
			summary.Sent++
		}
		summary.Results = append(summary.Results, result)
	}
	return summary, nil
}

type testEnv struct {
	server *Server
	runner *fakeRunner
	db     *store.DB
	supp   *suppress.Store
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	supp, err := suppress.NewStore(filepath.Join(dir, "suppress.db"))
	if err != nil {
		t.Fatalf("failed to open suppression store: %v", err)
	}
	t.Cleanup(func() { supp.Close() })

	cfg := &config.Config{}
	cfg.API.ListenAddr = ":0"
	cfg.Campaign.Delay = time.Millisecond
	cfg.Campaign.MaxRetries = 1
	cfg.Campaign.RetryBackoff = time.Millisecond
	cfg.Campaign.SendTimeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	runner := &fakeRunner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := NewServer(cfg, ServerDeps{
		Runner:      runner,
		Verifier:    verify.NewHeuristic(verify.Options{}),
		Limiter:     newTestLimiter(t),
		Campaigns:   store.NewCampaignRepository(db),
		Runs:        store.NewRunRepository(db),
		Tracking:    store.NewTrackingRepository(db),
		Consent:     store.NewConsentRepository(db),
		Suppression: supp,
	}, logger)

	return &testEnv{server: server, runner: runner, db: db, supp: supp}
}

func newTestLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	l := ratelimit.NewLimiter(time.Minute)
	t.Cleanup(l.Stop)
	return l
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func (e *testEnv) createCampaign(t *testing.T, name, subject, body string) *store.Campaign {
	t.Helper()
	w := e.request(t, "POST", "/api/v1/campaigns", CampaignRequest{Name: name, Subject: subject, Body: body})
	if w.Code != http.StatusCreated {
		t.Fatalf("create campaign status = %d: %s", w.Code, w.Body.String())
	}
	c := decodeJSON[store.Campaign](t, w)
	return &c
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	resp := decodeJSON[HealthResponse](t, w)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	c := env.createCampaign(t, "Launch", "Hi {{name}}", "Welcome {{name}}!")
	if c.ID == "" || c.Status != store.CampaignDraft {
		t.Fatalf("unexpected campaign: %+v", c)
	}

	w := env.request(t, "GET", "/api/v1/campaigns/"+c.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = env.request(t, "PUT", "/api/v1/campaigns/"+c.ID+"/recipients", RecipientsRequest{
		Recipients: []campaign.Recipient{
			{Email: "a@example.com", Data: map[string]string{"name": "Ann"}},
			{Email: "b@example.com", Data: map[string]string{"name": "Bob"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set recipients status = %d: %s", w.Code, w.Body.String())
	}

	w = env.request(t, "GET", "/api/v1/campaigns/"+c.ID+"/recipients", nil)
	resp := decodeJSON[struct {
		Recipients []store.Recipient `json:"recipients"`
	}](t, w)
	if len(resp.Recipients) != 2 {
		t.Errorf("got %d recipients, want 2", len(resp.Recipients))
	}

	w = env.request(t, "PUT", "/api/v1/campaigns/"+c.ID, CampaignRequest{Name: "Launch v2", Subject: "s", Body: "b"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	w = env.request(t, "GET", "/api/v1/campaigns", nil)
	list := decodeJSON[struct {
		Total int `json:"total"`
	}](t, w)
	if list.Total != 1 {
		t.Errorf("total = %d, want 1", list.Total)
	}

	w = env.request(t, "DELETE", "/api/v1/campaigns/"+c.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.request(t, "GET", "/api/v1/campaigns/"+c.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestGetCampaignMissing(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, "GET", "/api/v1/campaigns/no-such-id", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSendCampaign(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.failFor = map[string]string{"b@example.com": "mailbox full"}

	c := env.createCampaign(t, "Launch", "Hello {{name}}", "Hi!")
	env.request(t, "PUT", "/api/v1/campaigns/"+c.ID+"/recipients", RecipientsRequest{
		Recipients: []campaign.Recipient{
			{Email: "a@example.com"},
			{Email: "b@example.com"},
			{Email: "c@example.com"},
		},
	})

	w := env.request(t, "POST", "/api/v1/campaigns/"+c.ID+"/send", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[SendResponse](t, w)
	if resp.RunID == "" {
		t.Error("run_id is empty")
	}
	if resp.Summary.Total != 3 || resp.Summary.Sent != 2 || resp.Summary.Failed != 1 {
		t.Errorf("summary = %+v, want total 3 sent 2 failed 1", resp.Summary)
	}
	if env.runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", env.runner.calls)
	}

	// Campaign status and run are persisted
	w = env.request(t, "GET", "/api/v1/campaigns/"+c.ID, nil)
	got := decodeJSON[store.Campaign](t, w)
	if got.Status != store.CampaignCompleted {
		t.Errorf("campaign status = %q, want completed", got.Status)
	}

	w = env.request(t, "GET", "/api/v1/runs/"+resp.RunID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get run status = %d", w.Code)
	}
	run := decodeJSON[struct {
		Run     *store.Run        `json:"run"`
		Results []store.RunResult `json:"results"`
	}](t, w)
	if run.Run.Sent != 2 || run.Run.Failed != 1 {
		t.Errorf("persisted run = %+v", run.Run)
	}
	if len(run.Results) != 3 || run.Results[1].Error != "mailbox full" {
		t.Errorf("persisted results = %+v", run.Results)
	}
}

func TestSendCampaignInlineRecipients(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.createCampaign(t, "Adhoc", "s", "b")

	w := env.request(t, "POST", "/api/v1/campaigns/"+c.ID+"/send", SendRequest{
		Recipients: []campaign.Recipient{{Email: "x@example.com"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[SendResponse](t, w)
	if resp.Summary.Total != 1 {
		t.Errorf("total = %d, want 1", resp.Summary.Total)
	}
}

func TestSendCampaignNoRecipients(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.createCampaign(t, "Empty", "s", "b")

	w := env.request(t, "POST", "/api/v1/campaigns/"+c.ID+"/send", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if env.runner.calls != 0 {
		t.Error("runner invoked for empty campaign")
	}
}

func TestCancelWithoutRun(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, "POST", "/api/v1/campaigns/some-id/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRunRegistryRefusesConcurrent(t *testing.T) {
	env := newTestEnv(t, nil)

	if !env.server.registerRun("c1", func() {}) {
		t.Fatal("first registration refused")
	}
	if env.server.registerRun("c1", func() {}) {
		t.Error("second registration for same campaign allowed")
	}
	env.server.unregisterRun("c1")
	if !env.server.registerRun("c1", func() {}) {
		t.Error("registration after unregister refused")
	}
}

func TestVerifyEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.request(t, "POST", "/api/v1/verify", VerifyRequest{
		Emails: []string{"good@example.com", "bad-address", "admin@mailinator.com"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[struct {
		Results map[string]verify.Result `json:"results"`
	}](t, w)
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	if !resp.Results["good@example.com"].Valid {
		t.Error("good@example.com should be valid")
	}
	if resp.Results["bad-address"].Valid {
		t.Error("bad-address should be invalid")
	}
	if !resp.Results["admin@mailinator.com"].Disposable {
		t.Error("mailinator address should be disposable")
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.API.APIKey = "secret"
	})

	w := env.request(t, "GET", "/api/v1/campaigns", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/campaigns", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}

	// Health stays open
	w = env.request(t, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func TestIPFilter(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.API.AllowedIPs = []string{"10.0.0.0/8"}
	})

	// httptest requests come from 192.0.2.1, outside the allowlist
	w := env.request(t, "GET", "/api/v1/campaigns", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("outside allowlist status = %d, want 403", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/campaigns", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("inside allowlist status = %d, want 200", rec.Code)
	}

	// Tracking endpoints stay public
	w = env.request(t, "GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Window = time.Minute
		cfg.RateLimit.MaxRequests = 2
	})

	for i := 0; i < 2; i++ {
		if w := env.request(t, "GET", "/api/v1/campaigns", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}

	w := env.request(t, "GET", "/api/v1/campaigns", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestTrackOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.createCampaign(t, "Track", "s", "b")
	token := campaign.RecipientToken("a@example.com")

	w := env.request(t, "GET", "/t/o/"+c.ID+"/"+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Content-Type = %q, want image/gif", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), trackingPixel) {
		t.Error("body is not the tracking pixel")
	}

	w = env.request(t, "GET", "/api/v1/campaigns/"+c.ID+"/stats", nil)
	stats := decodeJSON[store.CampaignStats](t, w)
	if stats.Opens != 1 || stats.UniqueOpens != 1 {
		t.Errorf("stats = %+v, want 1 open", stats)
	}
}

func TestTrackOpenBadToken(t *testing.T) {
	env := newTestEnv(t, nil)

	// A broken token still gets the pixel, just no event
	w := env.request(t, "GET", "/t/o/some-campaign/%21%21%21", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestTrackClick(t *testing.T) {
	env := newTestEnv(t, nil)
	c := env.createCampaign(t, "Track", "s", "b")
	token := campaign.RecipientToken("a@example.com")

	w := env.request(t, "GET", "/t/c/"+c.ID+"/"+token+"?url=https%3A%2F%2Fexample.com%2Foffer", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://example.com/offer" {
		t.Errorf("Location = %q", loc)
	}

	w = env.request(t, "GET", "/api/v1/campaigns/"+c.ID+"/stats", nil)
	stats := decodeJSON[store.CampaignStats](t, w)
	if stats.Clicks != 1 {
		t.Errorf("clicks = %d, want 1", stats.Clicks)
	}
}

func TestTrackClickRejectsBadTarget(t *testing.T) {
	env := newTestEnv(t, nil)
	token := campaign.RecipientToken("a@example.com")

	w := env.request(t, "GET", "/t/c/c1/"+token+"?url=javascript%3Aalert%281%29", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	token := campaign.RecipientToken("leaver@example.com")

	w := env.request(t, "GET", "/unsubscribe/"+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	unsubbed, err := env.supp.IsUnsubscribed("leaver@example.com")
	if err != nil {
		t.Fatalf("IsUnsubscribed error: %v", err)
	}
	if !unsubbed {
		t.Error("address not recorded as unsubscribed")
	}

	w = env.request(t, "GET", "/api/v1/unsubscribes", nil)
	list := decodeJSON[struct {
		Unsubscribes []suppress.Unsubscribe `json:"unsubscribes"`
	}](t, w)
	if len(list.Unsubscribes) != 1 {
		t.Fatalf("got %d unsubscribes, want 1", len(list.Unsubscribes))
	}

	w = env.request(t, "DELETE", "/api/v1/unsubscribes/leaver@example.com", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("resubscribe status = %d", w.Code)
	}
	unsubbed, _ = env.supp.IsUnsubscribed("leaver@example.com")
	if unsubbed {
		t.Error("address still unsubscribed after resubscribe")
	}

	// Both consent changes show up in the history, newest first
	w = env.request(t, "GET", "/api/v1/consent/leaver@example.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consent history status = %d", w.Code)
	}
	history := decodeJSON[struct {
		Events []store.ConsentEvent `json:"events"`
	}](t, w)
	if len(history.Events) != 2 {
		t.Fatalf("got %d consent events, want 2", len(history.Events))
	}
	if history.Events[0].Action != store.ConsentGranted || history.Events[1].Action != store.ConsentWithdrawn {
		t.Errorf("unexpected consent order: %+v", history.Events)
	}
}
