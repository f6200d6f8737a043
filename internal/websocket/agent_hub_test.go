package websocket

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/types"
	"github.com/rs/zerolog"
)

func newTestAgentHub(kick func()) (*AgentHub, *agentpool.Pool) {
	logger := zerolog.New(&bytes.Buffer{})
	pool := agentpool.NewPool(logger)
	return NewAgentHub(pool, kick, logger), pool
}

func newAgentHubClient(hub *AgentHub, agentID string) *AgentClient {
	return &AgentClient{
		agentID: agentID,
		hub:     hub,
		send:    make(chan []byte, 8),
		done:    make(chan struct{}),
		logger:  zerolog.New(&bytes.Buffer{}),
	}
}

func waitForAgentCount(t *testing.T, hub *AgentHub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.AgentCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connected agents, got %d", want, hub.AgentCount())
}

func TestAgentHubRegisterAddsToPool(t *testing.T) {
	hub, pool := newTestAgentHub(nil)
	go hub.Run()

	client := newAgentHubClient(hub, "agent-1")
	hub.register <- client
	hub.agentRegister <- &types.AgentRegister{
		Type:     "register",
		AgentID:  "agent-1",
		Capacity: 2,
		Skills:   []string{"billing"},
	}
	waitForAgentCount(t, hub, 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := pool.Get("agent-1"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	agent, ok := pool.Get("agent-1")
	if !ok {
		t.Fatal("expected agent in pool after register")
	}
	if agent.Status != types.AgentOffline || agent.Capacity != 2 {
		t.Errorf("expected offline capacity 2, got %s/%d", agent.Status, agent.Capacity)
	}
}

func TestAgentHubStatusChangeKicksRouting(t *testing.T) {
	kicked := make(chan struct{}, 1)
	hub, pool := newTestAgentHub(func() {
		select {
		case kicked <- struct{}{}:
		default:
		}
	})
	go hub.Run()

	pool.Register(types.Agent{ID: "agent-1", Capacity: 1})
	hub.statusChange <- &types.AgentStatusChange{AgentID: "agent-1", Status: types.AgentOnline}

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("expected routing kick after agent went online")
	}
	agent, _ := pool.Get("agent-1")
	if agent.Status != types.AgentOnline {
		t.Errorf("expected online, got %s", agent.Status)
	}
}

func TestAgentHubSendToAgent(t *testing.T) {
	hub, _ := newTestAgentHub(nil)
	go hub.Run()

	client := newAgentHubClient(hub, "agent-1")
	hub.register <- client
	waitForAgentCount(t, hub, 1)

	msg, _ := json.Marshal(types.CallAssign{Type: "call_assign", AgentID: "agent-1", SessionID: "s1"})
	if !hub.SendToAgent("agent-1", msg) {
		t.Fatal("expected send to connected agent to succeed")
	}
	select {
	case got := <-client.send:
		var assign types.CallAssign
		if err := json.Unmarshal(got, &assign); err != nil {
			t.Fatal(err)
		}
		if assign.SessionID != "s1" {
			t.Errorf("unexpected payload %s", got)
		}
	default:
		t.Fatal("expected message in client buffer")
	}

	if hub.SendToAgent("ghost", msg) {
		t.Error("expected send to unknown agent to fail")
	}
}

func TestAgentHubDisconnectMarksOffline(t *testing.T) {
	hub, pool := newTestAgentHub(nil)
	go hub.Run()

	pool.Register(types.Agent{ID: "agent-1", Capacity: 1})
	if err := pool.SetStatus("agent-1", types.AgentOnline); err != nil {
		t.Fatal(err)
	}

	client := newAgentHubClient(hub, "agent-1")
	hub.register <- client
	waitForAgentCount(t, hub, 1)

	hub.unregister <- client
	waitForAgentCount(t, hub, 0)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if agent, _ := pool.Get("agent-1"); agent.Status == types.AgentOffline {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	agent, _ := pool.Get("agent-1")
	t.Fatalf("expected offline after disconnect, got %s", agent.Status)
}

func TestAgentHubReplacesDuplicateConnection(t *testing.T) {
	hub, _ := newTestAgentHub(nil)
	go hub.Run()

	first := newAgentHubClient(hub, "agent-1")
	second := newAgentHubClient(hub, "agent-1")
	hub.register <- first
	hub.register <- second
	waitForAgentCount(t, hub, 1)

	// Wait until the hub has actually processed the second registration;
	// the channel send only guarantees the hub received it.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		current := hub.agents["agent-1"]
		hub.mu.RUnlock()
		if current == second {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg := []byte(`{"type":"ack"}`)
	if !hub.SendToAgent("agent-1", msg) {
		t.Fatal("expected send to succeed")
	}
	select {
	case <-second.send:
	default:
		t.Error("expected replacement client to receive the message")
	}
}
