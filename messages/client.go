package messages

// Client -> server frame types
const (
	TypeConfig                     = "config"
	TypeLoadSessionsRequest        = "load_sessions_request"
	TypeLoadSessionMessagesRequest = "load_session_messages_request"
	TypeCreateSessionBackend       = "create_new_session_backend"
	TypeRenameSessionRequest       = "rename_session_request"
	TypeDeleteSessionRequest       = "delete_session_request"
	TypeTextInput                  = "text_input"
	TypeSetAPIKey                  = "set_api_key"
	TypeUpdateToggleState          = "update_toggle_state"

	// Pseudo-type for the realtime_input frame, which carries no "type" field
	TypeRealtimeInput = "realtime_input"
)

// Toggle names shared by both directions of the protocol
const (
	ToggleGemini    = "gemini"
	ToggleEval      = "eval"
	ToggleGrounding = "grounding"
)

// Outbound is a client->server frame that gets stamped with a session id
// before being sent.
type Outbound interface {
	FrameType() string
	StampSession(id string)
}

// ToggleStates carries the client's current belief about the three
// server-enforced feature flags.
type ToggleStates struct {
	Gemini    bool `json:"gemini"`
	Eval      bool `json:"eval"`
	Grounding bool `json:"grounding"`
}

// ConfigData is the reconciliation handshake payload sent on every open.
type ConfigData struct {
	ClientReady         bool         `json:"clientReady"`
	InitialSessionID    string       `json:"initialSessionId,omitempty"`
	CurrentToggleStates ToggleStates `json:"currentToggleStates"`
}

type Config struct {
	Type      string     `json:"type"`
	Data      ConfigData `json:"data"`
	SessionID string     `json:"sessionId"`
}

func NewConfig(initialSessionID string, toggles ToggleStates) *Config {
	return &Config{
		Type: TypeConfig,
		Data: ConfigData{
			ClientReady:         true,
			InitialSessionID:    initialSessionID,
			CurrentToggleStates: toggles,
		},
	}
}

func (f *Config) FrameType() string      { return f.Type }
func (f *Config) StampSession(id string) { f.SessionID = id }

type LoadSessionsRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func NewLoadSessionsRequest() *LoadSessionsRequest {
	return &LoadSessionsRequest{Type: TypeLoadSessionsRequest}
}

func (f *LoadSessionsRequest) FrameType() string      { return f.Type }
func (f *LoadSessionsRequest) StampSession(id string) { f.SessionID = id }

type LoadSessionMessagesRequest struct {
	Type            string `json:"type"`
	SessionIDToLoad string `json:"sessionId_to_load"`
	SessionID       string `json:"sessionId"`
}

func NewLoadSessionMessagesRequest(sessionIDToLoad string) *LoadSessionMessagesRequest {
	return &LoadSessionMessagesRequest{Type: TypeLoadSessionMessagesRequest, SessionIDToLoad: sessionIDToLoad}
}

func (f *LoadSessionMessagesRequest) FrameType() string      { return f.Type }
func (f *LoadSessionMessagesRequest) StampSession(id string) { f.SessionID = id }

// CreateSessionData mirrors the locally created session so the backend can
// materialize it under the same id.
type CreateSessionData struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
}

type CreateSessionBackend struct {
	Type      string            `json:"type"`
	Data      CreateSessionData `json:"data"`
	SessionID string            `json:"sessionId"`
}

func NewCreateSessionBackend(id, name string, timestamp int64) *CreateSessionBackend {
	return &CreateSessionBackend{
		Type: TypeCreateSessionBackend,
		Data: CreateSessionData{ID: id, Name: name, Timestamp: timestamp},
	}
}

func (f *CreateSessionBackend) FrameType() string      { return f.Type }
func (f *CreateSessionBackend) StampSession(id string) { f.SessionID = id }

type RenameSessionRequest struct {
	Type              string `json:"type"`
	SessionIDToRename string `json:"sessionIdToRename"`
	NewName           string `json:"newName"`
	SessionID         string `json:"sessionId"`
}

func NewRenameSessionRequest(sessionIDToRename, newName string) *RenameSessionRequest {
	return &RenameSessionRequest{Type: TypeRenameSessionRequest, SessionIDToRename: sessionIDToRename, NewName: newName}
}

func (f *RenameSessionRequest) FrameType() string      { return f.Type }
func (f *RenameSessionRequest) StampSession(id string) { f.SessionID = id }

type DeleteSessionRequest struct {
	Type              string `json:"type"`
	SessionIDToDelete string `json:"sessionIdToDelete"`
	SessionID         string `json:"sessionId"`
}

func NewDeleteSessionRequest(sessionIDToDelete string) *DeleteSessionRequest {
	return &DeleteSessionRequest{Type: TypeDeleteSessionRequest, SessionIDToDelete: sessionIDToDelete}
}

func (f *DeleteSessionRequest) FrameType() string      { return f.Type }
func (f *DeleteSessionRequest) StampSession(id string) { f.SessionID = id }

type TextInputData struct {
	Text      string `json:"text"`
	ImageData string `json:"image_data,omitempty"`
}

type TextInput struct {
	Type      string        `json:"type"`
	Data      TextInputData `json:"data"`
	SessionID string        `json:"sessionId"`
}

func NewTextInput(text, imageData string) *TextInput {
	return &TextInput{Type: TypeTextInput, Data: TextInputData{Text: text, ImageData: imageData}}
}

func (f *TextInput) FrameType() string      { return f.Type }
func (f *TextInput) StampSession(id string) { f.SessionID = id }

// MediaChunk is one captured PCM fragment, base64 encoded.
type MediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type RealtimeInputPayload struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

type RealtimeInput struct {
	RealtimeInput RealtimeInputPayload `json:"realtime_input"`
	SessionID     string               `json:"sessionId"`
}

func NewRealtimeInput(chunks ...MediaChunk) *RealtimeInput {
	return &RealtimeInput{RealtimeInput: RealtimeInputPayload{MediaChunks: chunks}}
}

func (f *RealtimeInput) FrameType() string      { return TypeRealtimeInput }
func (f *RealtimeInput) StampSession(id string) { f.SessionID = id }

type SetAPIKeyData struct {
	Service string `json:"service"`
	APIKey  string `json:"apiKey"`
}

type SetAPIKey struct {
	Type      string        `json:"type"`
	Data      SetAPIKeyData `json:"data"`
	SessionID string        `json:"sessionId"`
}

func NewSetAPIKey(service, apiKey string) *SetAPIKey {
	return &SetAPIKey{Type: TypeSetAPIKey, Data: SetAPIKeyData{Service: service, APIKey: apiKey}}
}

func (f *SetAPIKey) FrameType() string      { return f.Type }
func (f *SetAPIKey) StampSession(id string) { f.SessionID = id }

type UpdateToggleStateData struct {
	ToggleName string `json:"toggleName"`
	IsEnabled  bool   `json:"isEnabled"`
}

type UpdateToggleState struct {
	Type      string                `json:"type"`
	Data      UpdateToggleStateData `json:"data"`
	SessionID string                `json:"sessionId"`
}

func NewUpdateToggleState(toggleName string, isEnabled bool) *UpdateToggleState {
	return &UpdateToggleState{Type: TypeUpdateToggleState, Data: UpdateToggleStateData{ToggleName: toggleName, IsEnabled: isEnabled}}
}

func (f *UpdateToggleState) FrameType() string      { return f.Type }
func (f *UpdateToggleState) StampSession(id string) { f.SessionID = id }

// SessionOptionalTypes are the frame types that may be sent with a
// synthesized transient session marker when no real session exists yet.
var SessionOptionalTypes = map[string]bool{
	TypeConfig:              true,
	TypeLoadSessionsRequest: true,
	TypeSetAPIKey:           true,
	TypeUpdateToggleState:   true,
}
