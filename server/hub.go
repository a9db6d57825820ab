// Package server is the development backend: the authoritative side of the
// chat protocol, backed by the Gemini Live API when a credential is on file.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yeyu-labs/chatlink/config"
	"github.com/yeyu-labs/chatlink/session"
)

// Hub owns the authoritative session store, the shared credential, and the
// set of live connections.
type Hub struct {
	cfg   *config.Config
	store *session.Store
	rdb   *redis.Client

	mu     sync.RWMutex
	conns  map[string]*Conn
	apiKey string
}

// NewHub creates the hub. Redis is optional: when unreachable the hub runs
// memory-only.
func NewHub(cfg *config.Config) (*Hub, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb = nil
	}

	return &Hub{
		cfg:    cfg,
		store:  session.NewStore(),
		rdb:    rdb,
		conns:  make(map[string]*Conn),
		apiKey: cfg.GeminiAPIKey,
	}, nil
}

// Store exposes the authoritative session store.
func (h *Hub) Store() *session.Store {
	return h.store
}

// APIKey returns the shared validated credential, or "".
func (h *Hub) APIKey() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.apiKey
}

// SetAPIKey installs a credential that passed validation.
func (h *Hub) SetAPIKey(key string) {
	h.mu.Lock()
	h.apiKey = key
	h.mu.Unlock()
}

// Register admits a connection, enforcing the connection cap.
func (h *Hub) Register(c *Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.conns) >= h.cfg.MaxSessions {
		return fmt.Errorf("maximum connections reached")
	}
	h.conns[c.ID] = c
	return nil
}

// Unregister drops a connection from the registry.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// ActiveConnCount returns the number of live connections.
func (h *Hub) ActiveConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ListMetadata returns all sessions stripped to list metadata: clients fetch
// message history lazily per session.
func (h *Hub) ListMetadata() []session.Session {
	all := h.store.List()
	out := make([]session.Session, 0, len(all))
	for _, s := range all {
		s.Messages = []session.Message{}
		s.MessagesLoaded = false
		out = append(out, s)
	}
	return out
}

// MirrorSession records session metadata in Redis when available.
func (h *Hub) MirrorSession(ctx context.Context, s session.Session) {
	if h.rdb == nil {
		return
	}
	h.rdb.HSet(ctx, "chat_session:"+s.ID, map[string]interface{}{
		"name":            s.Name,
		"created_at":      s.CreatedAt,
		"last_updated_at": s.LastUpdatedAt,
	})
	h.rdb.SAdd(ctx, "chat_sessions", s.ID)
}

// UnmirrorSession removes a deleted session from Redis.
func (h *Hub) UnmirrorSession(ctx context.Context, id string) {
	if h.rdb == nil {
		return
	}
	h.rdb.Del(ctx, "chat_session:"+id)
	h.rdb.SRem(ctx, "chat_sessions", id)
}

// CleanupIdleConns closes connections that have been silent past the
// configured timeout.
func (h *Hub) CleanupIdleConns() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, c := range h.conns {
		if now.Sub(c.LastActivity()) > h.cfg.SessionTimeout {
			c.Close()
			delete(h.conns, id)
		}
	}
}

// StartCleanupRoutine runs periodic idle-connection cleanup until the
// context is cancelled.
func (h *Hub) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CleanupIdleConns()
		}
	}
}

// Shutdown closes every connection and the Redis client.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.conns {
		c.Close()
		delete(h.conns, id)
	}
	if h.rdb != nil {
		h.rdb.Close()
	}
}
