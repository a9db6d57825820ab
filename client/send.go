package client

import (
	"log"

	"github.com/google/uuid"

	"github.com/yeyu-labs/chatlink/messages"
)

// send stamps a session id onto the frame and queues it for the write pump.
// Session resolution order: active session, then first loaded, then first
// known. Frames that tolerate a missing session get a transient placeholder
// id; anything else is dropped rather than sent unaddressed.
func (e *Engine) send(frame messages.Outbound) error {
	e.mu.RLock()
	open := e.connState == StateOpen
	sid := e.activeID
	e.mu.RUnlock()

	if !open {
		log.Printf("⚠️ Not connected, dropping %s frame.", frame.FrameType())
		return ErrNotConnected
	}

	if sid == "" {
		if s, ok := e.store.FirstLoaded(); ok {
			sid = s.ID
		} else if s, ok := e.store.First(); ok {
			sid = s.ID
		}
	}
	if sid == "" {
		if messages.SessionOptionalTypes[frame.FrameType()] {
			sid = transientID("client_temp_global_")
		} else {
			log.Printf("❌ No session available, dropping %s frame.", frame.FrameType())
			return ErrNoSession
		}
	}

	return e.sendWithSession(frame, sid)
}

func (e *Engine) sendWithSession(frame messages.Outbound, sid string) error {
	frame.StampSession(sid)

	data, err := messages.Encode(frame)
	if err != nil {
		log.Printf("❌ Failed to encode %s frame: %v", frame.FrameType(), err)
		return err
	}

	e.mu.RLock()
	c := e.cur
	open := e.connState == StateOpen
	e.mu.RUnlock()

	if !open || c == nil {
		log.Printf("⚠️ Not connected, dropping %s frame.", frame.FrameType())
		return ErrNotConnected
	}

	select {
	case c.writeChan <- data:
	default:
		log.Printf("⚠️ Write queue full, dropping %s frame.", frame.FrameType())
	}
	return nil
}

func transientID(prefix string) string {
	return prefix + uuid.New().String()[:4]
}
