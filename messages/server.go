package messages

import "encoding/json"

// Server -> client frame types
const (
	TypeSessionsList        = "sessions_list"
	TypeSessionMessagesData = "session_messages_data"
	TypeSessionRenamedAck   = "session_renamed_ack"
	TypeSessionDeletedAck   = "session_deleted_ack"
	TypeToggleStateAck      = "toggle_state_update_ack"
	TypeAPIKeySetAck        = "api_key_set_ack"
	TypeEvalResponse        = "eval_response"
	TypeError               = "error"
)

// Ack statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ActionSetGeminiAPIKey marks an error frame that demands credential entry.
const ActionSetGeminiAPIKey = "set_gemini_api_key"

// ServerFrame is the union of everything the backend sends. Typed frames are
// discriminated by Type; the legacy subset (interrupt, audio, text_response,
// user_transcription, info, error) is discriminated by field presence.
type ServerFrame struct {
	Type string `json:"type,omitempty"`

	// Session context, in decreasing order of preference
	SessionIDContext string `json:"sessionId_context,omitempty"`
	SessionIDAlt     string `json:"session_id,omitempty"`
	SessionID        string `json:"sessionId,omitempty"`

	// Typed payload (sessions_list, toggle_state_update_ack, api_key_set_ack)
	Data json.RawMessage `json:"data,omitempty"`

	// session_messages_data
	SessionIDLoaded string          `json:"sessionId_loaded,omitempty"`
	Messages        json.RawMessage `json:"messages,omitempty"`

	// session_renamed_ack
	NewName       string `json:"newName,omitempty"`
	LastUpdatedAt int64  `json:"lastUpdatedAt,omitempty"`

	// error frame extensions
	ActionRequired string `json:"action_required,omitempty"`
	RejectedToggle string `json:"rejected_toggle,omitempty"`

	// Legacy field-discriminated payloads
	Interrupt         bool   `json:"interrupt,omitempty"`
	Audio             string `json:"audio,omitempty"`
	TextResponse      string `json:"text_response,omitempty"`
	UserTranscription string `json:"user_transcription,omitempty"`
	Info              string `json:"info,omitempty"`
	Error             string `json:"error,omitempty"`

	// Message provenance for text_response / user_transcription / eval_response
	ID               string `json:"id,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`
	ImageFilename    string `json:"image_filename,omitempty"`
	DataType         string `json:"data_type,omitempty"`
	LLMModelUsed     string `json:"llm_model_used,omitempty"`
	TTSAudioFilename string `json:"tts_audio_filename,omitempty"`

	// Ack fields when the backend sends them flat instead of under data
	ToggleName string `json:"toggleName,omitempty"`
	IsEnabled  bool   `json:"isEnabled,omitempty"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	Service    string `json:"service,omitempty"`
}

// ToggleAck is the payload of a toggle_state_update_ack frame.
type ToggleAck struct {
	ToggleName string `json:"toggleName"`
	IsEnabled  bool   `json:"isEnabled"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ToggleAck extracts the ack payload, preferring the nested data object and
// falling back to flat fields (both layouts exist in the wild).
func (f *ServerFrame) ToggleAck() ToggleAck {
	if len(f.Data) > 0 {
		var ack ToggleAck
		if err := Decode(f.Data, &ack); err == nil && ack.ToggleName != "" {
			return ack
		}
	}
	return ToggleAck{ToggleName: f.ToggleName, IsEnabled: f.IsEnabled, Status: f.Status, Message: f.Message}
}

// APIKeyAck is the payload of an api_key_set_ack frame.
type APIKeyAck struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (f *ServerFrame) APIKeyAck() APIKeyAck {
	if len(f.Data) > 0 {
		var ack APIKeyAck
		if err := Decode(f.Data, &ack); err == nil && ack.Service != "" {
			return ack
		}
	}
	return APIKeyAck{Service: f.Service, Status: f.Status, Message: f.Message}
}

// Constructors for the server side of the protocol.

func NewSessionsList(sessions any) *ServerFrame {
	return &ServerFrame{Type: TypeSessionsList, Data: Raw(sessions)}
}

func NewSessionMessagesData(sessionID string, msgs any) *ServerFrame {
	return &ServerFrame{Type: TypeSessionMessagesData, SessionIDLoaded: sessionID, Messages: Raw(msgs)}
}

func NewSessionRenamedAck(sessionID, newName string, lastUpdatedAt int64) *ServerFrame {
	return &ServerFrame{Type: TypeSessionRenamedAck, SessionID: sessionID, NewName: newName, LastUpdatedAt: lastUpdatedAt}
}

func NewSessionDeletedAck(sessionID string) *ServerFrame {
	return &ServerFrame{Type: TypeSessionDeletedAck, SessionID: sessionID}
}

func NewToggleStateAck(toggleName string, isEnabled bool, status, message string) *ServerFrame {
	return &ServerFrame{Type: TypeToggleStateAck, Data: Raw(ToggleAck{
		ToggleName: toggleName, IsEnabled: isEnabled, Status: status, Message: message,
	})}
}

func NewAPIKeySetAck(service, status, message string) *ServerFrame {
	return &ServerFrame{Type: TypeAPIKeySetAck, Data: Raw(APIKeyAck{
		Service: service, Status: status, Message: message,
	})}
}

// NewAPIKeyRequiredError tells the client a toggle was rejected because no
// valid credential is on file.
func NewAPIKeyRequiredError(rejectedToggle, message string) *ServerFrame {
	return &ServerFrame{
		Type:           TypeError,
		Error:          message,
		ActionRequired: ActionSetGeminiAPIKey,
		RejectedToggle: rejectedToggle,
	}
}

func NewInterrupt(sessionID string) *ServerFrame {
	return &ServerFrame{Interrupt: true, SessionIDContext: sessionID}
}

// NewAudio wraps base64-encoded 16-bit LE PCM for playback.
func NewAudio(sessionID, base64PCM string) *ServerFrame {
	return &ServerFrame{Audio: base64PCM, SessionIDContext: sessionID}
}

func NewTextResponse(sessionID, id, text string, timestamp int64) *ServerFrame {
	return &ServerFrame{TextResponse: text, ID: id, Timestamp: timestamp, SessionIDContext: sessionID}
}

func NewUserTranscription(sessionID, id, text string, timestamp int64) *ServerFrame {
	return &ServerFrame{UserTranscription: text, ID: id, Timestamp: timestamp, SessionIDContext: sessionID}
}

func NewEvalResponse(sessionID, id, text, model string, timestamp int64) *ServerFrame {
	return &ServerFrame{
		Type: TypeEvalResponse, TextResponse: text, ID: id, Timestamp: timestamp,
		LLMModelUsed: model, DataType: "ai_eval_response", SessionIDContext: sessionID,
	}
}

func NewInfo(sessionID, text string) *ServerFrame {
	return &ServerFrame{Info: text, SessionIDContext: sessionID}
}

func NewErrorText(sessionID, text string) *ServerFrame {
	return &ServerFrame{Error: text, SessionIDContext: sessionID}
}
