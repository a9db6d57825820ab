package messages

import "encoding/json"

// ClientFrame is the server-side view of any client frame. Typed frames are
// discriminated by Type; realtime_input by field presence.
type ClientFrame struct {
	Type      string          `json:"type,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	SessionIDToLoad   string `json:"sessionId_to_load,omitempty"`
	SessionIDToRename string `json:"sessionIdToRename,omitempty"`
	NewName           string `json:"newName,omitempty"`
	SessionIDToDelete string `json:"sessionIdToDelete,omitempty"`

	RealtimeInput *RealtimeInputPayload `json:"realtime_input,omitempty"`
}
