package client

import (
	"encoding/base64"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/yeyu-labs/chatlink/messages"
	"github.com/yeyu-labs/chatlink/session"
)

// dispatch routes one inbound frame. Typed frames are discriminated by the
// type field; the legacy stream payloads (interrupt, audio, text, info,
// error) by field presence. A malformed frame is logged and dropped, never
// fatal to the connection.
func (e *Engine) dispatch(data []byte) {
	var f messages.ServerFrame
	if err := messages.Decode(data, &f); err != nil {
		log.Printf("⚠️ Dropping malformed frame: %v", err)
		return
	}

	switch f.Type {
	case messages.TypeSessionsList:
		e.handleSessionsList(&f)
		return
	case messages.TypeSessionMessagesData:
		e.handleSessionMessages(&f)
		return
	case messages.TypeSessionRenamedAck:
		log.Printf("✏️ [%.8s] Rename confirmed: %q", f.SessionID, f.NewName)
		e.store.Rename(f.SessionID, f.NewName, f.LastUpdatedAt)
		e.change()
		return
	case messages.TypeSessionDeletedAck:
		e.handleSessionDeleted(&f)
		return
	case messages.TypeToggleStateAck:
		e.handleToggleAck(&f)
		return
	case messages.TypeAPIKeySetAck:
		e.handleAPIKeyAck(&f)
		return
	case messages.TypeEvalResponse:
		e.handleEvalResponse(&f)
		return
	case messages.TypeError:
		if f.ActionRequired == messages.ActionSetGeminiAPIKey {
			e.handleKeyRequired(&f)
			return
		}
		// Plain typed errors fall through to the legacy error handling.
	}

	if f.Interrupt {
		log.Println("🛑 Playback interrupted by server.")
		e.queue.Flush()
		e.change()
		return
	}

	// Audio and the text payloads can share a frame; handle audio first and
	// keep going.
	if f.Audio != "" {
		pcm, err := base64.StdEncoding.DecodeString(f.Audio)
		if err != nil {
			log.Printf("⚠️ Dropping undecodable audio chunk: %v", err)
		} else {
			e.queue.Enqueue(pcm)
		}
	}

	switch {
	case f.TextResponse != "":
		e.applyServerMessage(&f, session.SenderAI, f.TextResponse)
	case f.UserTranscription != "":
		e.applyServerMessage(&f, session.SenderUser, f.UserTranscription)
	case f.Info != "":
		e.noteContextMessage(&f, f.Info)
	case f.Error != "":
		e.noteContextMessage(&f, "Error: "+f.Error)
	}
}

func (e *Engine) handleSessionsList(f *messages.ServerFrame) {
	var server []session.Session
	if err := messages.Decode(f.Data, &server); err != nil {
		log.Printf("⚠️ Dropping malformed sessions_list: %v", err)
		return
	}
	log.Printf("📥 Received sessions_list with %d sessions.", len(server))
	e.store.Merge(server)

	stored := e.state.LastActiveSessionID()
	current := e.ActiveSessionID()
	pick := e.store.PickActive(stored, current)
	if pick == "" {
		log.Println("📂 No sessions from backend. Creating a fresh one.")
		pick = e.CreateSession()
	}
	e.SetActiveSession(pick)
}

func (e *Engine) handleSessionMessages(f *messages.ServerFrame) {
	var msgs []session.Message
	if len(f.Messages) > 0 {
		if err := messages.Decode(f.Messages, &msgs); err != nil {
			log.Printf("⚠️ [%.8s] Dropping malformed message history: %v", f.SessionIDLoaded, err)
			return
		}
	}
	log.Printf("📥 [%.8s] Received %d messages.", f.SessionIDLoaded, len(msgs))
	if !e.store.ReplaceMessages(f.SessionIDLoaded, msgs) {
		log.Printf("⚠️ [%.8s] History for unknown session ignored.", f.SessionIDLoaded)
		return
	}
	e.change()
}

func (e *Engine) handleSessionDeleted(f *messages.ServerFrame) {
	id := f.SessionID
	log.Printf("🗑️ [%.8s] Delete confirmed.", id)
	removed := e.store.Remove(id)

	if e.ActiveSessionID() == id {
		next := ""
		if s, ok := e.store.First(); ok {
			next = s.ID
		}
		if next == "" {
			log.Println("📂 Last session deleted. Creating a fresh one.")
			next = e.CreateSession()
		}
		e.SetActiveSession(next)
		return
	}
	if removed {
		e.change()
	}
}

func (e *Engine) handleToggleAck(f *messages.ServerFrame) {
	ack := f.ToggleAck()
	if !e.setToggle(ack.ToggleName, ack.IsEnabled) {
		log.Printf("⚠️ Ack for unknown toggle %q ignored.", ack.ToggleName)
		return
	}
	log.Printf("✅ Toggle %q confirmed: %v", ack.ToggleName, ack.IsEnabled)
	if ack.Status == messages.StatusError && ack.Message != "" {
		e.notify.Alert(ack.Message)
	}
	e.change()
}

func (e *Engine) handleAPIKeyAck(f *messages.ServerFrame) {
	ack := f.APIKeyAck()
	if ack.Status == messages.StatusSuccess {
		log.Println("✅ API key accepted by backend.")
		e.mu.Lock()
		e.keyConfirmed = true
		e.mu.Unlock()
		e.state.SetAPIKeyHint(true)
		e.prompt(false)
		if ack.Message != "" {
			e.notify.Alert(ack.Message)
		}
	} else {
		log.Printf("❌ API key rejected: %s", ack.Message)
		e.mu.Lock()
		e.keyConfirmed = false
		e.mu.Unlock()
		e.prompt(true)
		msg := ack.Message
		if msg == "" {
			msg = "API key was rejected."
		}
		e.notify.Alert(msg)
	}
	e.change()
}

// handleKeyRequired reverts a server-rejected toggle and reopens the
// credential prompt.
func (e *Engine) handleKeyRequired(f *messages.ServerFrame) {
	log.Printf("🔑 Backend requires an API key (rejected toggle: %q).", f.RejectedToggle)
	e.mu.Lock()
	e.keyConfirmed = false
	e.mu.Unlock()
	e.state.SetAPIKeyHint(false)
	if f.RejectedToggle != "" {
		e.setToggle(f.RejectedToggle, false)
	}
	e.prompt(true)
	if f.Error != "" {
		e.notify.Alert(f.Error)
	}
	e.change()
}

func (e *Engine) handleEvalResponse(f *messages.ServerFrame) {
	ctxID := e.contextSessionID(f)
	if ctxID == "" {
		log.Println("⚠️ Eval response without a session context dropped.")
		return
	}
	msg := session.Message{
		ID:           f.ID,
		Sender:       session.SenderEvaluator,
		Timestamp:    f.Timestamp,
		Data:         session.MessageData{Text: f.TextResponse},
		DataType:     f.DataType,
		LLMModelUsed: f.LLMModelUsed,
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = session.NowMillis()
	}
	if err := e.store.AppendServer(ctxID, msg); err != nil {
		log.Printf("⚠️ [%.8s] Eval response dropped: %v", ctxID, err)
		return
	}
	e.change()
}

// applyServerMessage installs an authoritative text or transcription message,
// reconciling against optimistic local entries.
func (e *Engine) applyServerMessage(f *messages.ServerFrame, sender session.Sender, text string) {
	ctxID := e.contextSessionID(f)
	if ctxID == "" {
		log.Println("⚠️ Server message without a session context dropped.")
		return
	}
	msg := session.Message{
		ID:               f.ID,
		Sender:           sender,
		Timestamp:        f.Timestamp,
		Data:             session.MessageData{Text: text},
		ImageFilename:    f.ImageFilename,
		DataType:         f.DataType,
		LLMModelUsed:     f.LLMModelUsed,
		TTSAudioFilename: f.TTSAudioFilename,
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = session.NowMillis()
	}
	if err := e.store.ApplyServer(ctxID, msg); err != nil {
		log.Printf("⚠️ [%.8s] Server message dropped: %v", ctxID, err)
		return
	}
	e.change()
}

// noteContextMessage records an info/error notice inside the addressed
// session when that session is real; otherwise it surfaces as an alert.
func (e *Engine) noteContextMessage(f *messages.ServerFrame, text string) {
	ctxID := e.contextSessionID(f)
	if ctxID != "" && !strings.HasPrefix(ctxID, "init_") &&
		!strings.HasPrefix(ctxID, "client_temp_") && e.store.Has(ctxID) {
		_, err := e.store.AddLocal(ctxID, session.Message{
			Sender:           session.SenderSystem,
			Data:             session.MessageData{Text: text},
			IsContextMessage: true,
		})
		if err == nil {
			e.change()
			return
		}
	}
	e.notify.Alert(text)
}

// contextSessionID resolves the session a stream frame belongs to.
func (e *Engine) contextSessionID(f *messages.ServerFrame) string {
	if f.SessionIDContext != "" {
		return f.SessionIDContext
	}
	if f.SessionIDAlt != "" {
		return f.SessionIDAlt
	}
	return e.ActiveSessionID()
}

func (e *Engine) setToggle(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch name {
	case messages.ToggleGemini:
		e.toggles.UseGemini = enabled
	case messages.ToggleEval:
		e.toggles.EvalMode = enabled
	case messages.ToggleGrounding:
		e.toggles.GroundingMode = enabled
	default:
		return false
	}
	return true
}
