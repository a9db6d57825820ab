package clientstate

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const redisKey = "chatlink:clientstate"

// State is the durable client-side state: the last-active session id and a
// non-authoritative hint that a credential was once accepted.
type State struct {
	LastActiveSessionID string `json:"lastActiveSessionId,omitempty"`
	APIKeyEnteredHint   bool   `json:"geminiApiKeyEnteredHint,omitempty"`
}

// Store persists State to a JSON file, optionally mirrored to Redis.
type Store struct {
	path string
	rdb  *redis.Client

	mu    sync.Mutex
	state State
}

// NewStore loads state from path. A Redis mirror is attached when reachable;
// otherwise the store degrades to file-only.
func NewStore(path, redisURL, redisPassword string) *Store {
	st := &Store{path: path}

	if redisURL != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisURL,
			Password: redisPassword,
			DB:       0,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Redis unavailable, continue without it
			rdb = nil
		}
		st.rdb = rdb
	}

	st.load()
	return st
}

// LastActiveSessionID returns the remembered session id, if any.
func (st *Store) LastActiveSessionID() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.LastActiveSessionID
}

// SetLastActiveSessionID remembers the active session across restarts.
func (st *Store) SetLastActiveSessionID(id string) {
	st.mu.Lock()
	st.state.LastActiveSessionID = id
	st.mu.Unlock()
	st.save()
}

// ClearLastActiveSessionID forgets the remembered session.
func (st *Store) ClearLastActiveSessionID() {
	st.SetLastActiveSessionID("")
}

// APIKeyHint reports whether a credential was once accepted.
func (st *Store) APIKeyHint() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.APIKeyEnteredHint
}

// SetAPIKeyHint records (or clears, on server rejection) the credential hint.
func (st *Store) SetAPIKeyHint(entered bool) {
	st.mu.Lock()
	st.state.APIKeyEnteredHint = entered
	st.mu.Unlock()
	st.save()
}

// Close releases the Redis mirror, if attached.
func (st *Store) Close() error {
	if st.rdb != nil {
		return st.rdb.Close()
	}
	return nil
}

func (st *Store) load() {
	data, err := os.ReadFile(st.path)
	if err != nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := sonic.Unmarshal(data, &st.state); err != nil {
		log.Printf("⚠️ Invalid client state file %s: %v", st.path, err)
		st.state = State{}
	}
}

func (st *Store) save() {
	st.mu.Lock()
	state := st.state
	st.mu.Unlock()

	data, err := sonic.Marshal(state)
	if err != nil {
		log.Printf("⚠️ Failed to encode client state: %v", err)
		return
	}

	// Write-then-rename so a crash never leaves a torn state file
	tmp := st.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err == nil {
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			log.Printf("⚠️ Failed to write client state: %v", err)
			return
		}
		if err := os.Rename(tmp, st.path); err != nil {
			log.Printf("⚠️ Failed to persist client state: %v", err)
			return
		}
	}

	if st.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		st.rdb.Set(ctx, redisKey, data, 0)
	}
}
