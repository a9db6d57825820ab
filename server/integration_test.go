package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yeyu-labs/chatlink/client"
	"github.com/yeyu-labs/chatlink/config"
	"github.com/yeyu-labs/chatlink/messages"
	"github.com/yeyu-labs/chatlink/session"
)

func startBackend(t *testing.T) (*Hub, string) {
	t.Helper()

	cfg := &config.Config{
		Port:           0,
		MaxSessions:    8,
		SessionTimeout: time.Minute,
		AllowedOrigins: []string{"*"},
		RedisURL:       "localhost:1", // unreachable on purpose, hub runs memory-only
	}
	hub, err := NewHub(cfg)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}

	srv := NewServer(cfg, hub)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(func() {
		hub.Shutdown()
		ts.Close()
	})

	return hub, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func startEngine(t *testing.T, url string) *client.Engine {
	t.Helper()

	cfg := &config.Config{
		ServerURL:         url,
		ConnectionTimeout: 5 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectCap:      5 * time.Second,
		StateFile:         filepath.Join(t.TempDir(), "state.json"),
	}
	eng := client.New(cfg, client.Options{})
	eng.Start()
	t.Cleanup(func() { eng.Close() })
	return eng
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandshakeSynthesizesFirstSession(t *testing.T) {
	hub, url := startBackend(t)
	eng := startEngine(t, url)

	waitFor(t, "connection", eng.Connected)
	waitFor(t, "initial session", func() bool {
		return len(eng.Sessions()) == 1 && eng.ActiveSessionID() != ""
	})

	// The synthesized session must round-trip to the backend.
	waitFor(t, "backend adoption", func() bool {
		return hub.Store().Has(eng.ActiveSessionID())
	})
}

func TestTextRoundTripReconciles(t *testing.T) {
	hub, url := startBackend(t)
	eng := startEngine(t, url)

	waitFor(t, "initial session", func() bool {
		return eng.Connected() && eng.ActiveSessionID() != "" && hub.Store().Has(eng.ActiveSessionID())
	})

	if err := eng.SendText("ping"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	sid := eng.ActiveSessionID()
	waitFor(t, "reply", func() bool {
		for _, sess := range eng.Sessions() {
			if sess.ID == sid && len(sess.Messages) >= 2 {
				return true
			}
		}
		return false
	})

	var got session.Session
	for _, sess := range eng.Sessions() {
		if sess.ID == sid {
			got = sess
		}
	}

	// The optimistic user message reconciled in place, so exactly one user
	// message remains, followed by the backend reply.
	users, ais := 0, 0
	for _, m := range got.Messages {
		switch m.Sender {
		case session.SenderUser:
			users++
			if m.IsOptimistic {
				t.Error("user message should be confirmed after the echo")
			}
		case session.SenderAI:
			ais++
		}
	}
	if users != 1 || ais != 1 {
		t.Errorf("expected 1 user + 1 AI message, got %d/%d: %+v", users, ais, got.Messages)
	}
}

func TestGroundingToggleAckRoundTrip(t *testing.T) {
	_, url := startBackend(t)
	eng := startEngine(t, url)

	waitFor(t, "connection", eng.Connected)

	// Grounding needs no credential, so the ack flips the client state.
	if err := eng.RequestToggle("grounding", true); err != nil {
		t.Fatalf("RequestToggle: %v", err)
	}
	waitFor(t, "toggle ack", func() bool { return eng.Toggles().GroundingMode })
}

func TestRenameAndDeleteRoundTrip(t *testing.T) {
	hub, url := startBackend(t)
	eng := startEngine(t, url)

	waitFor(t, "initial session", func() bool {
		return eng.Connected() && eng.ActiveSessionID() != "" && hub.Store().Has(eng.ActiveSessionID())
	})
	sid := eng.ActiveSessionID()

	if err := eng.RenameSession(sid, "our chat"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	waitFor(t, "rename ack", func() bool {
		for _, s := range eng.Sessions() {
			if s.ID == sid {
				return s.Name == "our chat"
			}
		}
		return false
	})

	if err := eng.DeleteSession(sid); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	// Deleting the only session makes the engine synthesize a replacement.
	waitFor(t, "delete ack and replacement", func() bool {
		if hub.Store().Has(sid) {
			return false
		}
		active := eng.ActiveSessionID()
		return active != "" && active != sid
	})
}

func TestConnectionCapRejectsExtraClients(t *testing.T) {
	hub, url := startBackend(t)
	hub.cfg.MaxSessions = 1

	first := startEngine(t, url)
	waitFor(t, "first client", first.Connected)

	second := startEngine(t, url)
	_ = second
	time.Sleep(500 * time.Millisecond)
	if got := hub.ActiveConnCount(); got != 1 {
		t.Errorf("connection cap should hold the count at 1, got %d", got)
	}
}

func TestListMetadataStripsMessages(t *testing.T) {
	hub, _ := startBackend(t)
	hub.Store().Adopt(session.Session{ID: "s1", Name: "Chat"})
	if err := hub.Store().AppendServer("s1", session.Message{
		ID: "m1", Sender: session.SenderUser, Timestamp: 1, Data: session.MessageData{Text: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	list := hub.ListMetadata()
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
	if len(list[0].Messages) != 0 {
		t.Error("metadata listing must not carry messages")
	}
	if list[0].MessagesLoaded {
		t.Error("metadata listing must not claim loaded history")
	}
}

func TestWriteAfterCloseDoesNotPanic(t *testing.T) {
	hub, url := startBackend(t)
	startEngine(t, url)
	waitFor(t, "connection registered", func() bool { return hub.ActiveConnCount() == 1 })

	hub.mu.RLock()
	var conn *Conn
	for _, c := range hub.conns {
		conn = c
	}
	hub.mu.RUnlock()

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A writer that saw the connection as open just before Close completed
	// lands here; the write channel stays open so this must never panic.
	select {
	case conn.writeChan <- messages.NewInterrupt("s1"):
	default:
	}
	conn.queue(messages.NewInterrupt("s1"))

	if err := conn.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
