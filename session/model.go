package session

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser      Sender = "User"
	SenderAI        Sender = "AI"
	SenderSystem    Sender = "System"
	SenderEvaluator Sender = "AI_Evaluator"
)

// MessageData holds the message body.
type MessageData struct {
	Text string `json:"text"`
}

// Message is one chat message. An optimistic message is a provisional local
// echo awaiting reconciliation against the authoritative server copy.
type Message struct {
	ID        string      `json:"id"`
	Sender    Sender      `json:"sender"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
	Data      MessageData `json:"data"`

	ImageFilename    string `json:"image_filename,omitempty"`
	TTSAudioFilename string `json:"tts_audio_filename,omitempty"`
	DataType         string `json:"data_type,omitempty"`
	LLMModelUsed     string `json:"llm_model_used,omitempty"`

	IsOptimistic     bool `json:"isOptimistic,omitempty"`
	IsContextMessage bool `json:"isContextMessage,omitempty"`
}

// Session is one independent conversation thread. MessagesLoaded
// distinguishes a fully fetched session from metadata-only (lazy) ones.
type Session struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Messages       []Message `json:"messages"`
	CreatedAt      int64     `json:"createdAt"`
	LastUpdatedAt  int64     `json:"lastUpdatedAt,omitempty"`
	MessagesLoaded bool      `json:"messagesLoaded,omitempty"`
}

// SortKey is the ordering key for the visible list: LastUpdatedAt with a
// CreatedAt fallback, newest first.
func (s *Session) SortKey() int64 {
	if s.LastUpdatedAt != 0 {
		return s.LastUpdatedAt
	}
	return s.CreatedAt
}

// NowMillis returns the wall clock in unix milliseconds, the timestamp unit
// used throughout the wire protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
