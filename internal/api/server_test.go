package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talgya/harborsim/internal/sim"
)

func newTestServer() *Server {
	return &Server{
		Engine:   sim.New(sim.Options{Seed: 42}),
		Port:     0,
		AdminKey: "sekrit",
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHandleState(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	s.handleState(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	state := decode[sim.PublicState](t, rec)
	if state.Tick != 0 || state.StateHash == "" {
		t.Errorf("state = tick %d hash %q", state.Tick, state.StateHash)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestHandleRegister(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"wallet":"0xA","name":"Alice"}`)
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	agent := decode[sim.Agent](t, rec)
	if agent.Wallet != "0xA" || agent.Region != sim.RegionDock || agent.Credits != 1000 {
		t.Errorf("agent = %+v", agent)
	}
}

func TestHandleRegisterValidation(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodGet, "/api/v1/register", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register",
		strings.NewReader(`{"wallet":"0xA"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register",
		strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", rec.Code)
	}
}

func TestHandleAction(t *testing.T) {
	s := newTestServer()
	s.Engine.Register("0xA", "Alice")

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"wallet":"0xA","action":"move","params":{"target":"mine"}}`)
	s.handleAction(rec, httptest.NewRequest(http.MethodPost, "/api/v1/action", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	result := decode[sim.Result](t, rec)
	if !result.Success {
		t.Errorf("move failed: %s", result.Message)
	}
	if result.Agent.Region != sim.RegionMine {
		t.Errorf("region = %s, want mine", result.Agent.Region)
	}
}

// Gameplay refusals are 200s with success=false; only unknown wallets 404.
func TestHandleActionFailuresAreResults(t *testing.T) {
	s := newTestServer()
	s.Engine.Register("0xA", "Alice")
	if _, err := s.Engine.Resolve("0xA", "move", sim.Params{"target": "market"}); err != nil {
		t.Fatalf("setup move: %v", err)
	}

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"wallet":"0xA","action":"harvest","params":{}}`)
	s.handleAction(rec, httptest.NewRequest(http.MethodPost, "/api/v1/action", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for gameplay refusal", rec.Code)
	}
	result := decode[sim.Result](t, rec)
	if result.Success {
		t.Error("harvest succeeded in the market, which yields nothing")
	}
	if !strings.Contains(result.Message, "Cannot harvest") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestHandleActionUnknownWallet(t *testing.T) {
	s := newTestServer()

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"wallet":"0xGhost","action":"rest","params":{}}`)
	s.handleAction(rec, httptest.NewRequest(http.MethodPost, "/api/v1/action", body))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleAgentDetail(t *testing.T) {
	s := newTestServer()
	s.Engine.Register("0xA", "Alice")

	rec := httptest.NewRecorder()
	s.handleAgentDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/0xA", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	agent := decode[sim.Agent](t, rec)
	if agent.Name != "Alice" {
		t.Errorf("name = %s", agent.Name)
	}

	rec = httptest.NewRecorder()
	s.handleAgentDetail(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/0xGhost", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown wallet status = %d, want 404", rec.Code)
	}
}

func TestHandleAgentsSummaries(t *testing.T) {
	s := newTestServer()
	s.Engine.Register("0xB", "Bob")
	s.Engine.Register("0xA", "Alice")

	rec := httptest.NewRecorder()
	s.handleAgents(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))

	var agents []map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&agents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(agents))
	}
	if agents[0]["wallet"] != "0xA" || agents[1]["wallet"] != "0xB" {
		t.Errorf("order = %v, %v, want wallet-sorted", agents[0]["wallet"], agents[1]["wallet"])
	}
	if _, leaked := agents[0]["inventory"]; leaked {
		t.Error("summary leaked full inventory map")
	}
}

func TestHandleLedgerMemoryFallback(t *testing.T) {
	s := newTestServer() // no Store configured
	s.Engine.Register("0xA", "Alice")

	rec := httptest.NewRecorder()
	s.handleLedger(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ledger?limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	entries := decode[[]sim.LedgerEntry](t, rec)
	if len(entries) != 1 || entries[0].Action != "register" {
		t.Errorf("entries = %v", entries)
	}
}

func TestAdminTickAuth(t *testing.T) {
	s := newTestServer()
	handler := s.adminOnly(s.handleTick)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tick", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tick", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/tick", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good token status = %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[sim.TickSummary](t, rec)
	if summary.Tick != 1 {
		t.Errorf("tick = %d, want 1", summary.Tick)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	s := newTestServer()
	s.AdminKey = ""

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tick", nil)
	req.Header.Set("Authorization", "Bearer anything")
	s.adminOnly(s.handleTick)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no admin key configured", rec.Code)
	}
}

func TestLimiterBudget(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("0xA"); !ok {
			t.Fatalf("request %d refused inside the budget", i+1)
		}
	}
	ok, wait := l.Allow("0xA")
	if ok {
		t.Error("fourth request allowed past the budget")
	}
	if wait <= 0 {
		t.Errorf("wait = %s, want positive for a spent budget", wait)
	}
	// Budgets are per key.
	if ok, _ := l.Allow("0xB"); !ok {
		t.Error("fresh wallet refused")
	}
}

func TestLimiterWindowRolls(t *testing.T) {
	l := NewLimiter(1, time.Millisecond)

	if ok, _ := l.Allow("0xA"); !ok {
		t.Fatal("first request refused")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := l.Allow("0xA"); !ok {
		t.Error("request refused after the window rolled over")
	}
}

// The write budget is keyed by wallet: the same wallet is throttled across
// requests while a different wallet from the same client is not.
func TestActionThrottledPerWallet(t *testing.T) {
	s := newTestServer()
	s.limiter = NewLimiter(1, time.Minute)
	s.Engine.Register("0xA", "Alice")
	s.Engine.Register("0xB", "Bob")

	post := func(wallet string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"wallet":"` + wallet + `","action":"rest","params":{}}`)
		s.handleAction(rec, httptest.NewRequest(http.MethodPost, "/api/v1/action", body))
		return rec
	}

	if rec := post("0xA"); rec.Code != http.StatusOK {
		t.Fatalf("first action status = %d", rec.Code)
	}
	rec := post("0xA")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second action status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec := post("0xB"); rec.Code != http.StatusOK {
		t.Errorf("other wallet status = %d, want 200", rec.Code)
	}
}

func TestRegisterThrottledPerWallet(t *testing.T) {
	s := newTestServer()
	s.limiter = NewLimiter(1, time.Minute)

	post := func(wallet string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		body := strings.NewReader(`{"wallet":"` + wallet + `","name":"Bot"}`)
		s.handleRegister(rec, httptest.NewRequest(http.MethodPost, "/api/v1/register", body))
		return rec
	}

	if rec := post("0xA"); rec.Code != http.StatusOK {
		t.Fatalf("first register status = %d", rec.Code)
	}
	if rec := post("0xA"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("repeat register status = %d, want 429", rec.Code)
	}
}
