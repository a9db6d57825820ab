package server

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yeyu-labs/chatlink/gemini"
	"github.com/yeyu-labs/chatlink/messages"
	"github.com/yeyu-labs/chatlink/session"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second

	keyValidationTimeout = 15 * time.Second
)

const systemPrompt = `You are a helpful voice assistant inside a chat application.
Keep spoken responses concise and conversational. Answer in the language the user writes in.`

// Conn is one connected client: a write pump, a frame dispatcher, and an
// optional live Gemini session driven by the client's toggles.
type Conn struct {
	ID  string
	hub *Hub
	ws  *websocket.Conn

	writeChan chan any
	CloseChan chan struct{}

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time
	toggles      messages.ToggleStates

	proxy       *gemini.Proxy
	proxyCancel context.CancelFunc
	turn        strings.Builder
	turnSID     string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConn wraps an upgraded websocket connection.
func NewConn(hub *Hub, ws *websocket.Conn) *Conn {
	readLimit := int64(hub.cfg.MaxBufferSize)
	if readLimit <= 0 {
		readLimit = 512 * 1024
	}
	ws.SetReadLimit(readLimit)
	ws.EnableWriteCompression(true)

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ID:           uuid.New().String(),
		hub:          hub,
		ws:           ws,
		writeChan:    make(chan any, writeBufferSize),
		CloseChan:    make(chan struct{}),
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling.
func (c *Conn) Start() {
	go c.writePump()
	go c.readLoop()
}

// LastActivity returns the time of the last inbound frame.
func (c *Conn) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// queue enqueues a frame for the write pump, dropping when full.
func (c *Conn) queue(msg any) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	select {
	case c.writeChan <- msg:
	default:
		log.Printf("⚠️ [%.8s] Write queue full, dropping frame.", c.ID)
	}
}

// writePump handles all outgoing frames in a single goroutine.
func (c *Conn) writePump() {
	defer func() {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.ws.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-c.CloseChan:
			return
		case msg := <-c.writeChan:
			if !c.writeFrame(msg) {
				return
			}

			n := len(c.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-c.writeChan:
					if !c.writeFrame(msg) {
						return
					}
				default:
				}
			}
		}
	}
}

func (c *Conn) writeFrame(msg any) bool {
	data, err := messages.Encode(msg)
	if err != nil {
		log.Printf("❌ [%.8s] Frame encode failed: %v", c.ID, err)
		return true
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data) == nil
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		select {
		case <-c.CloseChan:
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				if !c.isClosed() {
					log.Printf("🔌 [%.8s] Read ended: %v", c.ID, err)
				}
				return
			}
			c.touch()

			var f messages.ClientFrame
			if err := messages.Decode(data, &f); err != nil {
				log.Printf("⚠️ [%.8s] Dropping malformed frame: %v", c.ID, err)
				continue
			}
			c.handleFrame(&f)
		}
	}
}

func (c *Conn) handleFrame(f *messages.ClientFrame) {
	switch f.Type {
	case messages.TypeConfig:
		c.handleConfig(f)
	case messages.TypeLoadSessionsRequest:
		c.queue(messages.NewSessionsList(c.hub.ListMetadata()))
	case messages.TypeLoadSessionMessagesRequest:
		c.handleLoadMessages(f)
	case messages.TypeCreateSessionBackend:
		c.handleCreateSession(f)
	case messages.TypeRenameSessionRequest:
		c.handleRename(f)
	case messages.TypeDeleteSessionRequest:
		c.handleDelete(f)
	case messages.TypeTextInput:
		c.handleTextInput(f)
	case messages.TypeSetAPIKey:
		c.handleSetAPIKey(f)
	case messages.TypeUpdateToggleState:
		c.handleToggle(f)
	default:
		if f.RealtimeInput != nil {
			c.handleRealtimeInput(f)
			return
		}
		log.Printf("⚠️ [%.8s] Unknown frame type %q ignored.", c.ID, f.Type)
	}
}

func (c *Conn) handleConfig(f *messages.ClientFrame) {
	var data messages.ConfigData
	if len(f.Data) > 0 {
		if err := messages.Decode(f.Data, &data); err != nil {
			log.Printf("⚠️ [%.8s] Malformed config payload: %v", c.ID, err)
			return
		}
	}
	c.mu.Lock()
	c.toggles = data.CurrentToggleStates
	c.mu.Unlock()

	log.Printf("📥 [%.8s] Client ready. Session hint: %q, toggles: %+v",
		c.ID, data.InitialSessionID, data.CurrentToggleStates)

	if data.CurrentToggleStates.Gemini && c.hub.APIKey() != "" {
		if err := c.ensureProxy(); err != nil {
			log.Printf("❌ [%.8s] Live session setup failed: %v", c.ID, err)
		}
	}
}

func (c *Conn) handleLoadMessages(f *messages.ClientFrame) {
	id := f.SessionIDToLoad
	s, ok := c.hub.Store().Get(id)
	if !ok {
		log.Printf("⚠️ [%.8s] History requested for unknown session %.8s.", c.ID, id)
		c.queue(messages.NewSessionMessagesData(id, []session.Message{}))
		return
	}
	c.queue(messages.NewSessionMessagesData(id, s.Messages))
}

func (c *Conn) handleCreateSession(f *messages.ClientFrame) {
	var data messages.CreateSessionData
	if err := messages.Decode(f.Data, &data); err != nil || data.ID == "" {
		log.Printf("⚠️ [%.8s] Malformed create_new_session_backend: %v", c.ID, err)
		return
	}
	s := session.Session{
		ID:            data.ID,
		Name:          data.Name,
		CreatedAt:     data.Timestamp,
		LastUpdatedAt: data.Timestamp,
	}
	c.hub.Store().Adopt(s)
	c.hub.MirrorSession(c.ctx, s)
	log.Printf("📂 [%.8s] Adopted client session %.8s (%q).", c.ID, data.ID, data.Name)
}

func (c *Conn) handleRename(f *messages.ClientFrame) {
	id := f.SessionIDToRename
	ts := session.NowMillis()
	if !c.hub.Store().Rename(id, f.NewName, ts) {
		c.queue(messages.NewErrorText(f.SessionID, "Cannot rename unknown session."))
		return
	}
	if s, ok := c.hub.Store().Get(id); ok {
		c.hub.MirrorSession(c.ctx, s)
	}
	c.queue(messages.NewSessionRenamedAck(id, f.NewName, ts))
}

func (c *Conn) handleDelete(f *messages.ClientFrame) {
	id := f.SessionIDToDelete
	if !c.hub.Store().Remove(id) {
		c.queue(messages.NewErrorText(f.SessionID, "Cannot delete unknown session."))
		return
	}
	c.hub.UnmirrorSession(c.ctx, id)
	c.queue(messages.NewSessionDeletedAck(id))
}

func (c *Conn) handleTextInput(f *messages.ClientFrame) {
	var data messages.TextInputData
	if err := messages.Decode(f.Data, &data); err != nil {
		log.Printf("⚠️ [%.8s] Malformed text_input: %v", c.ID, err)
		return
	}
	sid := f.SessionID
	if !c.hub.Store().Has(sid) {
		c.queue(messages.NewErrorText(sid, "Unknown session."))
		return
	}

	// Persist and echo the user message so the client can reconcile its
	// optimistic copy.
	userMsg := session.Message{
		ID:        uuid.New().String(),
		Sender:    session.SenderUser,
		Timestamp: session.NowMillis(),
		Data:      session.MessageData{Text: data.Text},
		ImageFilename: func() string {
			if data.ImageData != "" {
				return "attachment_" + uuid.New().String()[:8] + ".png"
			}
			return ""
		}(),
	}
	if err := c.hub.Store().AppendServer(sid, userMsg); err != nil {
		c.queue(messages.NewErrorText(sid, err.Error()))
		return
	}
	c.queue(messages.NewUserTranscription(sid, userMsg.ID, data.Text, userMsg.Timestamp))

	c.mu.Lock()
	useGemini := c.toggles.Gemini
	evalMode := c.toggles.Eval
	c.turnSID = sid
	c.mu.Unlock()

	if useGemini {
		c.mu.RLock()
		proxy := c.proxy
		c.mu.RUnlock()
		if proxy != nil {
			if err := proxy.SendText(data.Text); err != nil {
				c.queue(messages.NewErrorText(sid, "Live session error: "+err.Error()))
			}
			return
		}
	}

	c.respondLocally(sid, data.Text, evalMode)
}

// respondLocally is the no-credential fallback pipeline.
func (c *Conn) respondLocally(sid, userText string, evalMode bool) {
	reply := "Received: " + userText + " (enable Gemini for live answers)"
	c.emitAIResponse(sid, reply, "local-echo")
	if evalMode {
		c.emitEvalResponse(sid)
	}
}

func (c *Conn) emitAIResponse(sid, text, model string) {
	msg := session.Message{
		ID:           uuid.New().String(),
		Sender:       session.SenderAI,
		Timestamp:    session.NowMillis(),
		Data:         session.MessageData{Text: text},
		LLMModelUsed: model,
	}
	if err := c.hub.Store().AppendServer(sid, msg); err != nil {
		log.Printf("⚠️ [%.8s] AI message not stored: %v", c.ID, err)
		return
	}
	frame := messages.NewTextResponse(sid, msg.ID, text, msg.Timestamp)
	frame.LLMModelUsed = model
	c.queue(frame)
}

func (c *Conn) emitEvalResponse(sid string) {
	msg := session.Message{
		ID:           uuid.New().String(),
		Sender:       session.SenderEvaluator,
		Timestamp:    session.NowMillis(),
		Data:         session.MessageData{Text: "Assessment: response delivered without errors."},
		DataType:     "ai_eval_response",
		LLMModelUsed: "devserver-eval",
	}
	if err := c.hub.Store().AppendServer(sid, msg); err != nil {
		return
	}
	c.queue(messages.NewEvalResponse(sid, msg.ID, msg.Data.Text, msg.LLMModelUsed, msg.Timestamp))
}

func (c *Conn) handleSetAPIKey(f *messages.ClientFrame) {
	var data messages.SetAPIKeyData
	if err := messages.Decode(f.Data, &data); err != nil || data.APIKey == "" {
		c.queue(messages.NewAPIKeySetAck("gemini", messages.StatusError, "Missing API key."))
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, keyValidationTimeout)
	defer cancel()

	if err := gemini.ValidateKey(ctx, data.APIKey); err != nil {
		log.Printf("❌ [%.8s] API key validation failed: %v", c.ID, err)
		c.queue(messages.NewAPIKeySetAck("gemini", messages.StatusError, "API key validation failed."))
		return
	}

	c.hub.SetAPIKey(data.APIKey)
	log.Printf("✅ [%.8s] API key validated and stored.", c.ID)
	c.queue(messages.NewAPIKeySetAck("gemini", messages.StatusSuccess, "API key validated."))

	c.mu.RLock()
	wantGemini := c.toggles.Gemini
	c.mu.RUnlock()
	if wantGemini {
		if err := c.ensureProxy(); err != nil {
			log.Printf("❌ [%.8s] Live session setup failed: %v", c.ID, err)
		}
	}
}

func (c *Conn) handleToggle(f *messages.ClientFrame) {
	var data messages.UpdateToggleStateData
	if err := messages.Decode(f.Data, &data); err != nil {
		log.Printf("⚠️ [%.8s] Malformed update_toggle_state: %v", c.ID, err)
		return
	}
	name, enabled := data.ToggleName, data.IsEnabled

	needsKey := name == messages.ToggleGemini || name == messages.ToggleEval
	if enabled && needsKey && c.hub.APIKey() == "" {
		log.Printf("🔑 [%.8s] Toggle %q rejected: no API key on file.", c.ID, name)
		c.queue(messages.NewAPIKeyRequiredError(name, "A valid Gemini API key is required for this feature."))
		return
	}

	c.mu.Lock()
	switch name {
	case messages.ToggleGemini:
		c.toggles.Gemini = enabled
	case messages.ToggleEval:
		c.toggles.Eval = enabled
	case messages.ToggleGrounding:
		c.toggles.Grounding = enabled
	default:
		c.mu.Unlock()
		c.queue(messages.NewToggleStateAck(name, false, messages.StatusError, "Unknown toggle."))
		return
	}
	c.mu.Unlock()

	switch {
	case name == messages.ToggleGemini && enabled:
		if err := c.ensureProxy(); err != nil {
			log.Printf("❌ [%.8s] Live session setup failed: %v", c.ID, err)
		}
	case name == messages.ToggleGemini && !enabled:
		c.closeProxy()
	case name == messages.ToggleGrounding:
		// Grounding only changes session tooling, so rebuild an active one.
		c.mu.RLock()
		active := c.proxy != nil
		c.mu.RUnlock()
		if active {
			c.closeProxy()
			if err := c.ensureProxy(); err != nil {
				log.Printf("❌ [%.8s] Live session rebuild failed: %v", c.ID, err)
			}
		}
	}

	log.Printf("✅ [%.8s] Toggle %q -> %v", c.ID, name, enabled)
	c.queue(messages.NewToggleStateAck(name, enabled, messages.StatusSuccess, ""))
}

func (c *Conn) handleRealtimeInput(f *messages.ClientFrame) {
	c.mu.RLock()
	proxy := c.proxy
	c.mu.RUnlock()

	if proxy == nil {
		log.Printf("⚠️ [%.8s] Audio chunk dropped: no live session.", c.ID)
		return
	}
	if f.SessionID != "" {
		c.mu.Lock()
		c.turnSID = f.SessionID
		c.mu.Unlock()
	}
	for _, chunk := range f.RealtimeInput.MediaChunks {
		if err := proxy.SendAudioBase64(chunk.Data); err != nil {
			log.Printf("⚠️ [%.8s] Audio chunk not forwarded: %v", c.ID, err)
		}
	}
}

// ensureProxy connects a Live session when a credential is on file.
func (c *Conn) ensureProxy() error {
	c.mu.Lock()
	if c.proxy != nil {
		c.mu.Unlock()
		return nil
	}
	grounding := c.toggles.Grounding
	c.mu.Unlock()

	key := c.hub.APIKey()
	if key == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(c.ctx)
	proxy, err := gemini.NewProxy(ctx, key)
	if err != nil {
		cancel()
		return err
	}
	if err := proxy.Setup(ctx, systemPrompt, grounding); err != nil {
		cancel()
		proxy.Close()
		return err
	}

	proxy.OnAudioRaw = func(base64Data string) {
		c.queue(messages.NewAudio(c.currentTurnSID(), base64Data))
	}
	proxy.OnText = func(text string) {
		c.mu.Lock()
		c.turn.WriteString(text)
		c.mu.Unlock()
	}
	proxy.OnOutputTranscription = func(text string) {
		c.mu.Lock()
		c.turn.WriteString(text)
		c.mu.Unlock()
	}
	proxy.OnInputTranscription = func(text string) {
		sid := c.currentTurnSID()
		msg := session.Message{
			ID:        uuid.New().String(),
			Sender:    session.SenderUser,
			Timestamp: session.NowMillis(),
			Data:      session.MessageData{Text: text},
		}
		if err := c.hub.Store().AppendServer(sid, msg); err == nil {
			c.queue(messages.NewUserTranscription(sid, msg.ID, text, msg.Timestamp))
		}
	}
	proxy.OnInterrupted = func() {
		c.queue(messages.NewInterrupt(c.currentTurnSID()))
	}
	proxy.OnComplete = func() {
		c.flushTurn()
	}
	proxy.OnError = func(err error) {
		c.queue(messages.NewErrorText(c.currentTurnSID(), "Live session error: "+err.Error()))
	}

	proxy.StartReceiving(ctx)

	c.mu.Lock()
	c.proxy = proxy
	c.proxyCancel = cancel
	c.mu.Unlock()
	return nil
}

func (c *Conn) closeProxy() {
	c.mu.Lock()
	proxy := c.proxy
	cancel := c.proxyCancel
	c.proxy = nil
	c.proxyCancel = nil
	c.turn.Reset()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if proxy != nil {
		proxy.Close()
	}
}

func (c *Conn) currentTurnSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.turnSID
}

// flushTurn persists and emits the accumulated model turn.
func (c *Conn) flushTurn() {
	c.mu.Lock()
	text := c.turn.String()
	c.turn.Reset()
	sid := c.turnSID
	evalMode := c.toggles.Eval
	c.mu.Unlock()

	if text == "" || sid == "" {
		return
	}
	c.emitAIResponse(sid, text, "gemini-live")
	if evalMode {
		c.emitEvalResponse(sid)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close terminates the connection and releases the live session.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	// CloseChan alone signals writePump shutdown; closing writeChan would
	// race a queue() that passed its closed check a moment earlier.
	close(c.CloseChan)
	c.closeProxy()
	c.ws.Close()
	return nil
}
