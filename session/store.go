package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession is returned when an operation targets a session the store
// does not hold.
var ErrNoSession = errors.New("no such session")

// reconcileWindowMillis bounds the content-based reconciliation fallback: an
// optimistic message only matches a server message with identical sender and
// text when their timestamps are within this window.
const reconcileWindowMillis = 30_000

// Store is the in-memory ordered collection of chat sessions. All mutations
// keep the list sorted newest-first by SortKey.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session
}

func NewStore() *Store {
	return &Store{}
}

// Create synthesizes a fresh session with a timestamp-derived name and
// inserts it. The caller gets a snapshot back synchronously so it can be
// activated immediately (local-first creation).
func (st *Store) Create(now time.Time) Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := &Session{
		ID:             uuid.New().String(),
		Name:           fmt.Sprintf("Chat %s", now.Format("15:04:05")),
		Messages:       []Message{},
		CreatedAt:      now.UnixMilli(),
		LastUpdatedAt:  now.UnixMilli(),
		MessagesLoaded: true,
	}
	st.sessions = append(st.sessions, s)
	st.resort()
	return cloneSession(s)
}

// Adopt inserts a session under a caller-provided id, the path taken when a
// backend accepts a client-created session. An existing id is left untouched.
func (st *Store) Adopt(s Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.find(s.ID) != nil {
		return
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = NowMillis()
	}
	s.MessagesLoaded = true
	st.sessions = append(st.sessions, &s)
	st.resort()
}

// AddLocal appends a provisional local message to the target session,
// stamping id/timestamp when absent and flagging it optimistic.
func (st *Store) AddLocal(targetID string, msg Message) (Message, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.find(targetID)
	if s == nil {
		return Message{}, fmt.Errorf("%w: %s", ErrNoSession, targetID)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = NowMillis()
	}
	msg.IsOptimistic = true
	s.Messages = append(s.Messages, msg)
	s.LastUpdatedAt = NowMillis()
	s.MessagesLoaded = true
	st.resort()
	return msg, nil
}

// Merge replaces the session set with the server-authoritative metadata
// while never discarding locally loaded message arrays.
func (st *Store) Merge(server []Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	prev := make(map[string]*Session, len(st.sessions))
	for _, s := range st.sessions {
		prev[s.ID] = s
	}

	merged := make([]*Session, 0, len(server))
	for i := range server {
		sv := server[i]
		if local, ok := prev[sv.ID]; ok && local.MessagesLoaded {
			sv.Messages = local.Messages
			sv.MessagesLoaded = true
		} else if sv.Messages == nil {
			sv.Messages = []Message{}
			sv.MessagesLoaded = false
		}
		merged = append(merged, &sv)
	}
	st.sessions = merged
	st.resort()
}

// ReplaceMessages installs the full server message history for a session.
func (st *Store) ReplaceMessages(id string, msgs []Message) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.find(id)
	if s == nil {
		return false
	}
	if msgs == nil {
		msgs = []Message{}
	}
	s.Messages = msgs
	s.MessagesLoaded = true
	s.LastUpdatedAt = NowMillis()
	st.resort()
	return true
}

// Rename applies a server-confirmed rename.
func (st *Store) Rename(id, newName string, lastUpdatedAt int64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.find(id)
	if s == nil {
		return false
	}
	s.Name = newName
	if lastUpdatedAt != 0 {
		s.LastUpdatedAt = lastUpdatedAt
	}
	st.resort()
	return true
}

// Remove drops a session after a server-confirmed delete.
func (st *Store) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	for i, s := range st.sessions {
		if s.ID == id {
			st.sessions = append(st.sessions[:i], st.sessions[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyServer installs an authoritative server message into a session.
// Reconciliation rule: an existing message with the same id is overwritten;
// otherwise an optimistic message with the same sender and exact text (within
// the reconciliation window) is confirmed in place; otherwise the message is
// appended. A record is never reconciled twice: confirmation clears the
// optimistic flag that content matching requires.
func (st *Store) ApplyServer(sessionID string, msg Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.find(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}

	idx := -1
	for i := range s.Messages {
		m := &s.Messages[i]
		if msg.ID != "" && m.ID == msg.ID {
			idx = i
			break
		}
		if m.IsOptimistic && m.Sender == msg.Sender && m.Data.Text == msg.Data.Text &&
			absInt64(m.Timestamp-msg.Timestamp) <= reconcileWindowMillis {
			idx = i
			break
		}
	}

	if idx >= 0 {
		existing := &s.Messages[idx]
		if msg.ID != "" {
			existing.ID = msg.ID
		}
		if msg.Timestamp != 0 {
			existing.Timestamp = msg.Timestamp
		}
		existing.Data = msg.Data
		existing.IsOptimistic = false
		if msg.ImageFilename != "" {
			existing.ImageFilename = msg.ImageFilename
		}
		if msg.DataType != "" {
			existing.DataType = msg.DataType
		}
		if msg.LLMModelUsed != "" {
			existing.LLMModelUsed = msg.LLMModelUsed
		}
		if msg.TTSAudioFilename != "" {
			existing.TTSAudioFilename = msg.TTSAudioFilename
		}
	} else {
		msg.IsOptimistic = false
		s.Messages = append(s.Messages, msg)
	}
	s.LastUpdatedAt = NowMillis()
	st.resort()
	return nil
}

// AppendServer appends an authoritative message without reconciliation.
// Evaluator messages use this path: they never have optimistic counterparts.
func (st *Store) AppendServer(sessionID string, msg Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.find(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	msg.IsOptimistic = false
	s.Messages = append(s.Messages, msg)
	s.LastUpdatedAt = NowMillis()
	st.resort()
	return nil
}

// Get returns a snapshot of one session.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if s := st.find(id); s != nil {
		return cloneSession(s), true
	}
	return Session{}, false
}

// Has reports whether the store holds the session.
func (st *Store) Has(id string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.find(id) != nil
}

// List returns snapshots of all sessions, newest first.
func (st *Store) List() []Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, cloneSession(s))
	}
	return out
}

// Len returns the session count.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// First returns the most recent session.
func (st *Store) First() (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(st.sessions) == 0 {
		return Session{}, false
	}
	return cloneSession(st.sessions[0]), true
}

// FirstLoaded returns the most recent session with loaded messages.
func (st *Store) FirstLoaded() (Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, s := range st.sessions {
		if s.MessagesLoaded {
			return cloneSession(s), true
		}
	}
	return Session{}, false
}

// PickActive chooses the session to activate after a sessions_list merge:
// the remembered id when the server confirms it, else the current active id
// when still present, else the most recent session, else "" (the caller
// synthesizes a fresh session).
func (st *Store) PickActive(storedID, currentID string) string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if storedID != "" && st.find(storedID) != nil {
		return storedID
	}
	if currentID != "" && st.find(currentID) != nil {
		return currentID
	}
	if len(st.sessions) > 0 {
		return st.sessions[0].ID
	}
	return ""
}

// find assumes the lock is held.
func (st *Store) find(id string) *Session {
	for _, s := range st.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// resort assumes the lock is held.
func (st *Store) resort() {
	sort.SliceStable(st.sessions, func(i, j int) bool {
		return st.sessions[i].SortKey() > st.sessions[j].SortKey()
	})
}

func cloneSession(s *Session) Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
