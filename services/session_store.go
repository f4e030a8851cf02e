package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionTTL bounds how long a chat session (and its creation-time menu
// snapshot) stays alive
const SessionTTL = 30 * time.Minute

// ChatSessionRecord is the persisted state of one assistant conversation:
// the cart it acts on plus the full append-only message history, starting
// with the system prompt seeded at session creation.
type ChatSessionRecord struct {
	ID       string        `json:"id"`
	CartID   string        `json:"cart_id"`
	Messages []ChatMessage `json:"messages"`
}

// SessionStoreError represents a session store error
type SessionStoreError struct {
	Code    string
	Message string
}

func (e *SessionStoreError) Error() string {
	return e.Message
}

var ErrSessionNotFound = &SessionStoreError{Code: "SESSION_NOT_FOUND", Message: "Chat session not found or expired"}

// SessionStore persists chat session records
type SessionStore interface {
	Save(ctx context.Context, rec *ChatSessionRecord) error
	Get(ctx context.Context, id string) (*ChatSessionRecord, error)
}

// RedisSessionStore keeps sessions in Redis with a TTL so conversations
// survive process restarts but stale menu snapshots eventually expire
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a session store over the given Redis URL
func NewRedisSessionStore(redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisSessionStore{client: redis.NewClient(opts)}, nil
}

func sessionKey(id string) string {
	return "chat:session:" + id
}

// Save writes the record and refreshes its TTL
func (s *RedisSessionStore) Save(ctx context.Context, rec *ChatSessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(rec.ID), payload, SessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get loads the record with the given ID
func (s *RedisSessionStore) Get(ctx context.Context, id string) (*ChatSessionRecord, error) {
	payload, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var rec ChatSessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &rec, nil
}

// MemorySessionStore is an in-process SessionStore used in tests and when no
// Redis is configured
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSessionRecord
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*ChatSessionRecord)}
}

// Save stores a copy of the record
func (s *MemorySessionStore) Save(_ context.Context, rec *ChatSessionRecord) error {
	copied := *rec
	copied.Messages = make([]ChatMessage, len(rec.Messages))
	copy(copied.Messages, rec.Messages)
	s.mu.Lock()
	s.sessions[rec.ID] = &copied
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record with the given ID
func (s *MemorySessionStore) Get(_ context.Context, id string) (*ChatSessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *rec
	copied.Messages = make([]ChatMessage, len(rec.Messages))
	copy(copied.Messages, rec.Messages)
	return &copied, nil
}
