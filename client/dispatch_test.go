package client

import (
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yeyu-labs/chatlink/audio"
	"github.com/yeyu-labs/chatlink/clientstate"
	"github.com/yeyu-labs/chatlink/config"
	"github.com/yeyu-labs/chatlink/session"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *recordingNotifier) Alert(msg string) {
	n.mu.Lock()
	n.alerts = append(n.alerts, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type testHarness struct {
	eng     *Engine
	notify  *recordingNotifier
	mu      sync.Mutex
	prompts []bool
}

func (h *testHarness) promptCalls() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.prompts...)
}

func newTestEngine(t *testing.T, opts Options) *testHarness {
	t.Helper()

	cfg := &config.Config{
		ServerURL:         "ws://localhost:0/ws",
		ConnectionTimeout: time.Second,
		ReconnectBase:     5 * time.Second,
		ReconnectCap:      30 * time.Second,
		StateFile:         filepath.Join(t.TempDir(), "state.json"),
	}

	h := &testHarness{notify: &recordingNotifier{}}
	if opts.State == nil {
		opts.State = clientstate.NewStore(cfg.StateFile, "", "")
	}
	opts.Notifier = h.notify
	opts.Prompt = func(open bool) {
		h.mu.Lock()
		h.prompts = append(h.prompts, open)
		h.mu.Unlock()
	}

	h.eng = New(cfg, opts)
	t.Cleanup(func() { h.eng.Close() })
	return h
}

func TestDispatchMalformedFrameIsDropped(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.dispatch([]byte("{not json"))
	if n := len(h.eng.Sessions()); n != 0 {
		t.Errorf("malformed frame should change nothing, got %d sessions", n)
	}
}

func TestDispatchSessionsListActivatesStored(t *testing.T) {
	dir := t.TempDir()
	state := clientstate.NewStore(filepath.Join(dir, "state.json"), "", "")
	state.SetLastActiveSessionID("b")

	h := newTestEngine(t, Options{State: state})

	h.eng.dispatch([]byte(`{"type":"sessions_list","data":[
		{"id":"a","name":"First","createdAt":2000},
		{"id":"b","name":"Second","createdAt":1000}
	]}`))

	if n := len(h.eng.Sessions()); n != 2 {
		t.Fatalf("expected 2 sessions, got %d", n)
	}
	if got := h.eng.ActiveSessionID(); got != "b" {
		t.Errorf("stored session should be activated, got %q", got)
	}
}

func TestDispatchSessionsListFallsBackToMostRecent(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"type":"sessions_list","data":[
		{"id":"old","name":"Old","createdAt":1000},
		{"id":"new","name":"New","createdAt":2000}
	]}`))

	if got := h.eng.ActiveSessionID(); got != "new" {
		t.Errorf("most recent session should be activated, got %q", got)
	}
}

func TestDispatchEmptySessionsListCreatesOne(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"type":"sessions_list","data":[]}`))

	if n := len(h.eng.Sessions()); n != 1 {
		t.Fatalf("expected a synthesized session, got %d", n)
	}
	if h.eng.ActiveSessionID() != h.eng.Sessions()[0].ID {
		t.Error("synthesized session should be active")
	}
}

func TestDispatchSessionMessages(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})

	h.eng.dispatch([]byte(`{"type":"session_messages_data","sessionId_loaded":"s1","messages":[
		{"id":"m1","sender":"User","timestamp":500,"data":{"text":"hi"}}
	]}`))

	got, _ := h.eng.store.Get("s1")
	if !got.MessagesLoaded || len(got.Messages) != 1 {
		t.Fatalf("history should be installed: %+v", got)
	}
	if got.Messages[0].Data.Text != "hi" {
		t.Errorf("unexpected message %+v", got.Messages[0])
	}
}

func TestDispatchRenameAck(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Old", CreatedAt: 1000}})

	h.eng.dispatch([]byte(`{"type":"session_renamed_ack","sessionId":"s1","newName":"Renamed","lastUpdatedAt":9999}`))

	got, _ := h.eng.store.Get("s1")
	if got.Name != "Renamed" || got.LastUpdatedAt != 9999 {
		t.Errorf("rename ack not applied: %+v", got)
	}
}

func TestDispatchDeleteAckPicksNextActive(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{
		{ID: "a", Name: "A", CreatedAt: 2000},
		{ID: "b", Name: "B", CreatedAt: 1000},
	})
	h.eng.SetActiveSession("a")

	h.eng.dispatch([]byte(`{"type":"session_deleted_ack","sessionId":"a"}`))

	if h.eng.store.Has("a") {
		t.Error("deleted session still present")
	}
	if got := h.eng.ActiveSessionID(); got != "b" {
		t.Errorf("next most recent session should become active, got %q", got)
	}
}

func TestDispatchDeleteLastSessionCreatesFresh(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "only", Name: "Only", CreatedAt: 1000}})
	h.eng.SetActiveSession("only")

	h.eng.dispatch([]byte(`{"type":"session_deleted_ack","sessionId":"only"}`))

	if n := len(h.eng.Sessions()); n != 1 {
		t.Fatalf("expected replacement session, got %d", n)
	}
	if h.eng.ActiveSessionID() == "only" || h.eng.ActiveSessionID() == "" {
		t.Errorf("fresh session should be active, got %q", h.eng.ActiveSessionID())
	}
}

func TestDispatchToggleAckIsAuthoritative(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"type":"toggle_state_update_ack","data":{"toggleName":"eval","isEnabled":true,"status":"success"}}`))
	if !h.eng.Toggles().EvalMode {
		t.Error("eval toggle should be on after ack")
	}

	// A flat-layout ack turning it back off must also apply.
	h.eng.dispatch([]byte(`{"type":"toggle_state_update_ack","toggleName":"eval","isEnabled":false,"status":"success"}`))
	if h.eng.Toggles().EvalMode {
		t.Error("eval toggle should be off after second ack")
	}
}

func TestDispatchToggleAckErrorAlerts(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"type":"toggle_state_update_ack","data":{"toggleName":"grounding","isEnabled":false,"status":"error","message":"backend rejected"}}`))

	if h.notify.count() != 1 {
		t.Errorf("error ack should alert, got %d alerts", h.notify.count())
	}
}

func TestDispatchAPIKeyAckSuccess(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"type":"api_key_set_ack","data":{"service":"gemini","status":"success","message":"ok"}}`))

	if !h.eng.APIKeyConfirmed() {
		t.Error("key should be confirmed")
	}
	if !h.eng.state.APIKeyHint() {
		t.Error("durable hint should be set")
	}
	calls := h.promptCalls()
	if len(calls) != 1 || calls[0] != false {
		t.Errorf("prompt should close on success, got %v", calls)
	}
}

func TestDispatchAPIKeyAckErrorReopensPrompt(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.mu.Lock()
	h.eng.keyConfirmed = true
	h.eng.mu.Unlock()

	h.eng.dispatch([]byte(`{"type":"api_key_set_ack","data":{"service":"gemini","status":"error","message":"bad key"}}`))

	if h.eng.APIKeyConfirmed() {
		t.Error("rejected key must clear confirmation")
	}
	calls := h.promptCalls()
	if len(calls) != 1 || calls[0] != true {
		t.Errorf("prompt should reopen on rejection, got %v", calls)
	}
	if h.notify.count() != 1 {
		t.Errorf("rejection should alert, got %d", h.notify.count())
	}
}

func TestDispatchKeyRequiredRollsBackToggle(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.setToggle("gemini", true)

	h.eng.dispatch([]byte(`{"type":"error","error":"key required","action_required":"set_gemini_api_key","rejected_toggle":"gemini"}`))

	if h.eng.Toggles().UseGemini {
		t.Error("rejected toggle should roll back")
	}
	if h.eng.APIKeyConfirmed() {
		t.Error("confirmation should clear")
	}
	calls := h.promptCalls()
	if len(calls) != 1 || calls[0] != true {
		t.Errorf("credential prompt should open, got %v", calls)
	}
}

func TestDispatchEvalResponseAppends(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})

	h.eng.dispatch([]byte(`{"type":"eval_response","sessionId_context":"s1","id":"e1","text_response":"verdict","llm_model_used":"judge","data_type":"ai_eval_response","timestamp":42}`))

	got, _ := h.eng.store.Get("s1")
	if len(got.Messages) != 1 {
		t.Fatalf("expected appended eval message, got %d", len(got.Messages))
	}
	m := got.Messages[0]
	if m.Sender != session.SenderEvaluator || m.LLMModelUsed != "judge" || m.Data.Text != "verdict" {
		t.Errorf("unexpected eval message %+v", m)
	}
}

func TestDispatchStampsIDOnUnidentifiedResponses(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})

	h.eng.dispatch([]byte(`{"sessionId_context":"s1","text_response":"first"}`))
	h.eng.dispatch([]byte(`{"sessionId_context":"s1","text_response":"second"}`))

	got, _ := h.eng.store.Get("s1")
	if len(got.Messages) != 2 {
		t.Fatalf("id-less responses must stay distinct, got %d messages", len(got.Messages))
	}
	a, b := got.Messages[0], got.Messages[1]
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("expected fresh unique ids, got %q and %q", a.ID, b.ID)
	}
}

func TestDispatchTextResponseReconcilesOptimistic(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})
	local, _ := h.eng.store.AddLocal("s1", session.Message{
		Sender: session.SenderUser, Data: session.MessageData{Text: "hello"},
	})

	frame := fmt.Sprintf(
		`{"sessionId_context":"s1","user_transcription":"hello","id":"srv1","timestamp":%d}`,
		local.Timestamp+100,
	)
	h.eng.dispatch([]byte(frame))

	got, _ := h.eng.store.Get("s1")
	if len(got.Messages) != 1 {
		t.Fatalf("transcription should reconcile, got %d messages", len(got.Messages))
	}
	if got.Messages[0].ID != "srv1" || got.Messages[0].IsOptimistic {
		t.Errorf("message not confirmed: %+v", got.Messages[0])
	}
}

func TestDispatchInfoOutsideRealSessionAlerts(t *testing.T) {
	h := newTestEngine(t, Options{})

	h.eng.dispatch([]byte(`{"sessionId_context":"client_temp_cfg_ab12","info":"transient notice"}`))

	if h.notify.count() != 1 {
		t.Errorf("info for a placeholder session should alert, got %d", h.notify.count())
	}
}

func TestDispatchInfoInsideSessionBecomesContextMessage(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})

	h.eng.dispatch([]byte(`{"sessionId_context":"s1","info":"system notice"}`))

	got, _ := h.eng.store.Get("s1")
	if len(got.Messages) != 1 || !got.Messages[0].IsContextMessage {
		t.Fatalf("expected a context message, got %+v", got.Messages)
	}
	if got.Messages[0].Sender != session.SenderSystem {
		t.Errorf("context message should come from the system, got %s", got.Messages[0].Sender)
	}
	if h.notify.count() != 0 {
		t.Error("no alert expected when the notice lands in a session")
	}
}

// blockingOutput playback units run until stopped, letting tests observe the
// interrupt path.
type blockingOutput struct {
	mu      sync.Mutex
	started chan struct{}
	units   []*blockingUnit
}

func (o *blockingOutput) Play(pcm []byte) (audio.Unit, error) {
	u := &blockingUnit{done: make(chan struct{})}
	o.mu.Lock()
	o.units = append(o.units, u)
	o.mu.Unlock()
	o.started <- struct{}{}
	return u, nil
}

func (o *blockingOutput) Close() error { return nil }

type blockingUnit struct {
	done    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func (u *blockingUnit) Done() <-chan struct{} { return u.done }
func (u *blockingUnit) Stop() {
	u.once.Do(func() {
		u.mu.Lock()
		u.stopped = true
		u.mu.Unlock()
		close(u.done)
	})
}

func TestDispatchInterruptFlushesPlayback(t *testing.T) {
	out := &blockingOutput{started: make(chan struct{}, 4)}
	h := newTestEngine(t, Options{Output: out})

	pcm := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	h.eng.dispatch([]byte(`{"audio":"` + pcm + `"}`))

	select {
	case <-out.started:
	case <-time.After(2 * time.Second):
		t.Fatal("audio never started playing")
	}

	h.eng.dispatch([]byte(`{"interrupt":true}`))

	out.mu.Lock()
	unit := out.units[0]
	out.mu.Unlock()

	unit.mu.Lock()
	stopped := unit.stopped
	unit.mu.Unlock()
	if !stopped {
		t.Error("interrupt should stop in-flight playback")
	}
	if h.eng.PlaybackLevel() != 0 {
		t.Errorf("interrupt should zero the level, got %d", h.eng.PlaybackLevel())
	}
}

func TestRequestToggleGatedWithoutKey(t *testing.T) {
	h := newTestEngine(t, Options{})

	if err := h.eng.RequestToggle("gemini", true); err != nil {
		t.Fatalf("gated toggle should not error, got %v", err)
	}

	calls := h.promptCalls()
	if len(calls) != 1 || calls[0] != true {
		t.Errorf("credential prompt should open instead of sending, got %v", calls)
	}
	if h.eng.Toggles().UseGemini {
		t.Error("toggle must stay off until the backend confirms")
	}
}

func TestRequestToggleDisableNeverGated(t *testing.T) {
	h := newTestEngine(t, Options{})

	// Disabling needs no credential; it fails only because we are offline.
	if err := h.eng.RequestToggle("gemini", false); err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if len(h.promptCalls()) != 0 {
		t.Error("disable must not open the credential prompt")
	}
}

func TestSubmitAPIKeyRejectsBlank(t *testing.T) {
	h := newTestEngine(t, Options{})
	if err := h.eng.SubmitAPIKey("   "); err != ErrEmptyKey {
		t.Errorf("expected ErrEmptyKey, got %v", err)
	}
}

func TestSendTextRequiresSession(t *testing.T) {
	h := newTestEngine(t, Options{})
	if err := h.eng.SendText("hello"); err != ErrNoSession {
		t.Errorf("expected ErrNoSession with no sessions, got %v", err)
	}
}

func TestSendTextAppendsOptimisticallyWhileOffline(t *testing.T) {
	h := newTestEngine(t, Options{})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})
	h.eng.SetActiveSession("s1")

	if err := h.eng.SendText("queued"); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	got, _ := h.eng.store.Get("s1")
	if len(got.Messages) != 1 || !got.Messages[0].IsOptimistic {
		t.Errorf("optimistic message should exist even when send fails: %+v", got.Messages)
	}
}

func TestCreateSessionIsLocalFirst(t *testing.T) {
	h := newTestEngine(t, Options{})

	id := h.eng.CreateSession()
	if id == "" {
		t.Fatal("expected a session id")
	}
	got, ok := h.eng.store.Get(id)
	if !ok || !got.MessagesLoaded {
		t.Errorf("created session should exist and be loaded: %+v", got)
	}
}

func TestSetActiveSessionPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	state := clientstate.NewStore(path, "", "")

	h := newTestEngine(t, Options{State: state})
	h.eng.store.Merge([]session.Session{{ID: "s1", Name: "Chat", CreatedAt: 1000}})
	h.eng.SetActiveSession("s1")

	reloaded := clientstate.NewStore(path, "", "")
	if got := reloaded.LastActiveSessionID(); got != "s1" {
		t.Errorf("active session should persist, got %q", got)
	}
}
