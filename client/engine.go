// Package client is the real-time synchronization engine: it owns the
// persistent backend connection, reconciles optimistic UI state against
// authoritative server state, streams microphone audio out and synthesized
// speech in, and negotiates the feature-toggle/credential protocol.
package client

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/yeyu-labs/chatlink/audio"
	"github.com/yeyu-labs/chatlink/clientstate"
	"github.com/yeyu-labs/chatlink/config"
	"github.com/yeyu-labs/chatlink/messages"
	"github.com/yeyu-labs/chatlink/session"
)

var (
	// ErrNotConnected is returned when an action needs an open connection.
	ErrNotConnected = errors.New("websocket not open")
	// ErrNoSession is returned when no session id can be resolved for a
	// session-required frame.
	ErrNoSession = errors.New("no resolvable session id")
	// ErrEmptyKey rejects blank credential submissions locally.
	ErrEmptyKey = errors.New("api key cannot be empty")
	// ErrNoCaptureDevice is returned when mic streaming is requested without
	// a capture device.
	ErrNoCaptureDevice = errors.New("no capture device configured")
)

// Notifier surfaces blocking user-visible notifications.
type Notifier interface {
	Alert(msg string)
}

type logNotifier struct{}

func (logNotifier) Alert(msg string) { log.Printf("🔔 ALERT: %s", msg) }

// Toggles is a snapshot of the three server-enforced feature flags.
type Toggles struct {
	UseGemini     bool
	EvalMode      bool
	GroundingMode bool
}

// Options injects the engine's collaborators. Nil fields get safe defaults.
type Options struct {
	Output   audio.Output
	Capture  audio.CaptureDevice
	State    *clientstate.Store
	Notifier Notifier
	// Prompt opens or closes the credential-entry prompt.
	Prompt func(open bool)
	// OnChange fires after any observable state mutation so presentation
	// code can re-read the accessors.
	OnChange func()
}

// Engine is the public facade handed to presentation code.
type Engine struct {
	cfg    *config.Config
	store  *session.Store
	queue  *audio.Queue
	state  *clientstate.Store
	notify Notifier
	prompt func(open bool)
	change func()

	capture audio.CaptureDevice

	mu             sync.RWMutex
	cur            *wsConn
	connState      ConnState
	attempts       int
	reconnectTimer *time.Timer
	closed         bool

	activeID     string
	toggles      Toggles
	keyConfirmed bool

	capturing  bool
	captureCh  <-chan audio.Frame
	inputLevel int
}

// New constructs an engine. Call Start to begin connecting and Close to
// tear everything down.
func New(cfg *config.Config, opts Options) *Engine {
	if opts.Output == nil {
		opts.Output = audio.Discard()
	}
	if opts.State == nil {
		opts.State = clientstate.NewStore(cfg.StateFile, "", "")
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	if opts.Prompt == nil {
		opts.Prompt = func(open bool) {
			if open {
				log.Println("🔑 Credential entry required")
			}
		}
	}
	if opts.OnChange == nil {
		opts.OnChange = func() {}
	}

	e := &Engine{
		cfg:       cfg,
		store:     session.NewStore(),
		queue:     audio.NewQueue(opts.Output),
		state:     opts.State,
		notify:    opts.Notifier,
		prompt:    opts.Prompt,
		change:    opts.OnChange,
		capture:   opts.Capture,
		connState: StateClosed,
	}
	e.activeID = e.state.LastActiveSessionID()
	return e
}

// Connected reports whether the connection is open.
func (e *Engine) Connected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connState == StateOpen
}

// State returns the connection state.
func (e *Engine) State() ConnState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connState
}

// Sessions returns snapshots of all sessions, newest first.
func (e *Engine) Sessions() []session.Session {
	return e.store.List()
}

// ActiveSessionID returns the currently active session id, or "".
func (e *Engine) ActiveSessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeID
}

// PlaybackLevel returns the current speech output level, 0-100.
func (e *Engine) PlaybackLevel() int {
	return e.queue.Level()
}

// InputLevel returns the current microphone level, 0-100.
func (e *Engine) InputLevel() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.inputLevel
}

// Toggles returns a snapshot of the feature flags.
func (e *Engine) Toggles() Toggles {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.toggles
}

// APIKeyConfirmed reports whether the backend has validated a credential.
func (e *Engine) APIKeyConfirmed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.keyConfirmed
}

// CreateSession creates a session locally, notifies the backend when
// connected, and returns the new id synchronously so callers can activate
// it immediately.
func (e *Engine) CreateSession() string {
	s := e.store.Create(time.Now())
	log.Printf("📂 [%.8s] Created new session locally ('%s')", s.ID, s.Name)

	if e.Connected() {
		frame := messages.NewCreateSessionBackend(s.ID, s.Name, s.CreatedAt)
		if err := e.sendWithSession(frame, s.ID); err != nil {
			log.Printf("⚠️ [%.8s] New session not sent to backend: %v", s.ID, err)
		}
	} else {
		log.Printf("⚠️ [%.8s] WebSocket not open. New session not sent to backend yet.", s.ID)
	}
	e.change()
	return s.ID
}

// SetActiveSession switches the active session, persists the choice, and
// lazily fetches message history for sessions known only by metadata.
func (e *Engine) SetActiveSession(id string) {
	e.mu.Lock()
	e.activeID = id
	e.mu.Unlock()

	if id == "" {
		e.state.ClearLastActiveSessionID()
		e.change()
		return
	}
	e.state.SetLastActiveSessionID(id)
	e.requestMessagesIfNeeded(id)
	e.change()
}

// requestMessagesIfNeeded issues a history fetch for a lazily-loaded session
// when the connection is open.
func (e *Engine) requestMessagesIfNeeded(id string) {
	s, ok := e.store.Get(id)
	if !ok || s.MessagesLoaded || !e.Connected() {
		return
	}
	log.Printf("📥 [%.8s] Messages not loaded. Requesting from backend.", id)
	if err := e.sendWithSession(messages.NewLoadSessionMessagesRequest(id), id); err != nil {
		log.Printf("⚠️ [%.8s] Message fetch request failed: %v", id, err)
	}
}

// SendText optimistically appends the user message to the active session and
// forwards it to the backend.
func (e *Engine) SendText(text string) error {
	return e.SendTextWithImage(text, "")
}

// SendTextWithImage is SendText with an optional base64 image attachment.
func (e *Engine) SendTextWithImage(text, imageData string) error {
	target := e.ActiveSessionID()
	if target == "" {
		if s, ok := e.store.First(); ok {
			target = s.ID
		}
	}
	if target == "" {
		log.Println("❌ No active/target session ID to add message to.")
		return ErrNoSession
	}

	_, err := e.store.AddLocal(target, session.Message{
		Sender: session.SenderUser,
		Data:   session.MessageData{Text: text},
	})
	if err != nil {
		log.Printf("❌ Optimistic append failed: %v", err)
		return err
	}
	e.change()
	return e.send(messages.NewTextInput(text, imageData))
}

// SendMediaChunk forwards one captured PCM fragment as a realtime_input frame.
func (e *Engine) SendMediaChunk(mimeType, base64Data string) error {
	return e.send(messages.NewRealtimeInput(messages.MediaChunk{MimeType: mimeType, Data: base64Data}))
}

// RenameSession requests a rename. Local state changes only on the ack.
func (e *Engine) RenameSession(id, newName string) error {
	newName = strings.TrimSpace(newName)
	if id == "" || newName == "" {
		log.Println("⚠️ Cannot rename session: invalid input.")
		return ErrNoSession
	}
	log.Printf("✏️ [%.8s] Requesting rename to %q", id, newName)
	return e.send(messages.NewRenameSessionRequest(id, newName))
}

// DeleteSession requests a delete. Local state changes only on the ack.
func (e *Engine) DeleteSession(id string) error {
	if id == "" {
		return ErrNoSession
	}
	log.Printf("🗑️ [%.8s] Requesting delete", id)
	return e.send(messages.NewDeleteSessionRequest(id))
}
