package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/callback"
	"github.com/agnox/callcore/internal/config"
	"github.com/agnox/callcore/internal/customer"
	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/queue"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/telephony"
	"github.com/agnox/callcore/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type fixture struct {
	svc    *engine.Service
	pool   *agentpool.Pool
	queue  *queue.Manager
	store  *store.SessionStore
	router *chi.Mux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{
		MaxQueueWait:       600 * time.Second,
		SweepInterval:      5 * time.Second,
		RoutingInterval:    time.Second,
		DefaultWaitEst:     60 * time.Second,
		WaitWindowSize:     20,
		SLThreshold:        20 * time.Second,
		SentimentWindow:    4,
		NegativeThreshold:  0.75,
		EscalationCooldown: 120 * time.Second,
		TransferTimeout:    30 * time.Second,
	}

	sessions := store.NewSessionStore(logger)
	q := queue.NewManager(queue.NewWaitEstimator(cfg.WaitWindowSize, cfg.DefaultWaitEst), queue.NewSLTracker(cfg.SLThreshold), logger)
	pool := agentpool.NewPool(logger)
	customers := customer.NewRegistry(logger)
	callbacks := callback.NewScheduler(logger)
	durable := storage.NewNoopStore()

	svc := engine.NewService(engine.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Queue:     q,
		Pool:      pool,
		Customers: customers,
		Callbacks: callbacks,
		Notifier:  notify.NewNotifier(logger),
		Dialer:    telephony.NewLogDialer(logger),
		Conv:      telephony.NewLogConversation(logger),
		Durable:   durable,
		Logger:    logger,
	})

	webhooks := NewWebhookHandler(svc, logger)
	agents := NewAgentsHandler(pool, svc, logger)
	queueH := NewQueueHandler(q, svc, logger)
	sessionsH := NewSessionsHandler(sessions, svc, durable, logger)
	callbacksH := NewCallbacksHandler(callbacks, svc, logger)
	customersH := NewCustomersHandler(customers, logger)

	r := chi.NewRouter()
	r.Route("/webhooks/calls", func(r chi.Router) {
		r.Post("/arrived", webhooks.CallArrived)
		r.Post("/{sessionId}/answered", webhooks.CallAnswered)
		r.Post("/{sessionId}/ended", webhooks.CallEnded)
		r.Post("/{sessionId}/transcript", webhooks.Transcript)
		r.Post("/{sessionId}/handoff", webhooks.Handoff)
		r.Post("/{sessionId}/transfer/accepted", webhooks.TransferAccepted)
		r.Post("/{sessionId}/transfer/rejected", webhooks.TransferRejected)
	})
	r.Route("/api", func(r chi.Router) {
		r.Post("/agents", agents.Register)
		r.Get("/agents", agents.List)
		r.Get("/agents/{agentId}", agents.Get)
		r.Put("/agents/{agentId}/status", agents.SetStatus)
		r.Get("/queue/stats", queueH.Stats)
		r.Get("/queue/position/{sessionId}", queueH.Position)
		r.Get("/sessions", sessionsH.ListActive)
		r.Get("/sessions/history", sessionsH.History)
		r.Get("/sessions/{sessionId}", sessionsH.Get)
		r.Get("/sessions/{sessionId}/transcript", sessionsH.Transcript)
		r.Get("/sessions/{sessionId}/transfers", sessionsH.Transfers)
		r.Post("/sessions/{sessionId}/transfer", sessionsH.RequestTransfer)
		r.Post("/calls/outbound", sessionsH.StartOutbound)
		r.Post("/callbacks", callbacksH.Schedule)
		r.Get("/callbacks/{callbackId}", callbacksH.Get)
		r.Delete("/callbacks/{callbackId}", callbacksH.Cancel)
		r.Get("/customers", customersH.Lookup)
		r.Get("/customers/{customerId}", customersH.Get)
		r.Put("/customers/{customerId}", customersH.UpdateProfile)
		r.Get("/customers/{customerId}/callbacks", callbacksH.ForCustomer)
	})

	return &fixture{svc: svc, pool: pool, queue: q, store: sessions, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) arriveCall(t *testing.T, phone string) types.CallSession {
	t.Helper()
	w := f.do(t, http.MethodPost, "/webhooks/calls/arrived", map[string]interface{}{
		"phoneNumber": phone,
		"roomName":    "room-" + phone,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("call arrived: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess types.CallSession
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestCallArrivedCreatesSession(t *testing.T) {
	f := newFixture(t)

	sess := f.arriveCall(t, "+15551234567")
	if sess.State != types.StateConnectedAI {
		t.Errorf("expected connected_ai, got %s", sess.State)
	}

	w := f.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCallArrivedValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/webhooks/calls/arrived", map[string]string{"phoneNumber": "+15551234567"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without roomName, got %d", w.Code)
	}
}

func TestHandoffAndQueuePosition(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")

	w := f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/handoff", map[string]string{"reason": "customer_request"})
	if w.Code != http.StatusOK {
		t.Fatalf("handoff: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/queue/position/"+sess.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("position: expected 200, got %d", w.Code)
	}
	var pos struct {
		Position         int     `json:"position"`
		EstimatedWaitSec float64 `json:"estimatedWaitSec"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &pos); err != nil {
		t.Fatal(err)
	}
	if pos.Position != 0 || pos.EstimatedWaitSec <= 0 {
		t.Errorf("unexpected position payload: %+v", pos)
	}

	// a second handoff for the same session is rejected
	w = f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/handoff", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for repeated handoff, got %d", w.Code)
	}
}

func TestQueueStats(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")
	f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/handoff", nil)

	w := f.do(t, http.MethodGet, "/api/queue/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats types.QueueStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.WaitingCount != 1 {
		t.Errorf("expected 1 waiting, got %d", stats.WaitingCount)
	}
}

func TestAgentLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/agents", map[string]interface{}{
		"agentId":  "agent-1",
		"name":     "Dana",
		"capacity": 2,
		"skills":   []string{"billing"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/api/agents/agent-1/status", map[string]string{"status": "online"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w.Code)
	}
	var agent types.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &agent); err != nil {
		t.Fatal(err)
	}
	if agent.Status != types.AgentOnline {
		t.Errorf("expected online, got %s", agent.Status)
	}

	w = f.do(t, http.MethodPut, "/api/agents/agent-1/status", map[string]string{"status": "napping"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status, got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/api/agents/ghost/status", map[string]string{"status": "online"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/agents", nil)
	var agents []types.Agent
	if err := json.Unmarshal(w.Body.Bytes(), &agents); err != nil {
		t.Fatal(err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(agents))
	}
}

func TestTranscriptWebhookAndReadback(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")
	defer f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/ended", nil)

	w := f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/transcript", types.TranscriptEvent{
		Speaker:   types.SpeakerCustomer,
		Text:      "I need help with my bill",
		Sentiment: types.SentimentNeutral,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("transcript: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/transcript", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var events []types.TranscriptEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Text != "I need help with my bill" {
		t.Errorf("unexpected transcript %+v", events)
	}
}

func TestTransferWebhookFlow(t *testing.T) {
	f := newFixture(t)
	f.pool.Register(types.Agent{ID: "agent-1", Capacity: 1})
	if err := f.pool.SetStatus("agent-1", types.AgentOnline); err != nil {
		t.Fatal(err)
	}
	sess := f.arriveCall(t, "+15551234567")

	w := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/transfer", map[string]string{"reason": "supervisor"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("transfer request: expected 202, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/transfer/accepted", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("transfer accepted: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := f.store.Get(sess.ID)
	if got.State != types.StateConnectedHuman || got.AgentID != "agent-1" {
		t.Errorf("expected connected_human with agent-1, got %s agent=%s", got.State, got.AgentID)
	}

	// nothing pending anymore
	w = f.do(t, http.MethodPost, "/webhooks/calls/"+sess.ID+"/transfer/accepted", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 with no pending transfer, got %d", w.Code)
	}
}

func TestTransferRequestNoAgents(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")

	w := f.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/transfer", map[string]string{"reason": "supervisor"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 with no eligible agents, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCallbackEndpoints(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")

	w := f.do(t, http.MethodPost, "/api/callbacks", map[string]interface{}{
		"customerId":  sess.CustomerID,
		"scheduledAt": time.Now().Add(time.Hour),
		"reason":      "follow up",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("schedule: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var cb types.Callback
	if err := json.Unmarshal(w.Body.Bytes(), &cb); err != nil {
		t.Fatal(err)
	}

	w = f.do(t, http.MethodGet, "/api/customers/"+sess.CustomerID+"/callbacks", nil)
	var list []types.Callback
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 callback, got %d", len(list))
	}

	w = f.do(t, http.MethodDelete, "/api/callbacks/"+cb.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/callbacks", map[string]interface{}{
		"customerId":  "ghost",
		"scheduledAt": time.Now().Add(time.Hour),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown customer, got %d", w.Code)
	}
}

func TestCustomerLookupAndUpdate(t *testing.T) {
	f := newFixture(t)
	sess := f.arriveCall(t, "+15551234567")

	w := f.do(t, http.MethodGet, "/api/customers?phone=%2B15551234567", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lookup: expected 200, got %d", w.Code)
	}

	w = f.do(t, http.MethodPut, "/api/customers/"+sess.CustomerID, map[string]string{"name": "Alex", "email": "alex@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", w.Code)
	}
	var cust types.Customer
	if err := json.Unmarshal(w.Body.Bytes(), &cust); err != nil {
		t.Fatal(err)
	}
	if cust.Name != "Alex" {
		t.Errorf("expected updated name, got %q", cust.Name)
	}
}

func TestSessionHistoryValidatesDate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/sessions/history?date=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/sessions/history?date=2026-08-29", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
