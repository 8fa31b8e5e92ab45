// Package drafts keeps the latest autosaved snapshot of each live workspace
// session so a crashed tab can pick up where it left off.
package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("draft not found or expired")

// Draft is one autosaved snapshot.
type Draft struct {
	SessionID string          `json:"sessionId"`
	ReportID  string          `json:"reportId,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot"`
	SavedAt   time.Time       `json:"savedAt"`
}

type Store interface {
	SaveDraft(ctx context.Context, d Draft) error
	LoadDraft(ctx context.Context, sessionID string) (Draft, error)
	DeleteDraft(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultTTL = 24 * time.Hour

// RedisStore implements draft storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, prefix: "draft:", ttl: ttl}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// SaveDraft overwrites the session's draft and restarts its TTL.
func (s *RedisStore) SaveDraft(ctx context.Context, d Draft) error {
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.client.Set(ctx, s.key(d.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadDraft(ctx context.Context, sessionID string) (Draft, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, fmt.Errorf("load draft: %w", err)
	}

	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return Draft{}, fmt.Errorf("unmarshal draft: %w", err)
	}
	return d, nil
}

func (s *RedisStore) DeleteDraft(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore keeps drafts in process. Used when no Redis is configured.
type MemoryStore struct {
	items *cache.Cache
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{items: cache.New(ttl, ttl/2)}
}

func (s *MemoryStore) SaveDraft(_ context.Context, d Draft) error {
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now().UTC()
	}
	d.Snapshot = append(json.RawMessage(nil), d.Snapshot...)
	s.items.SetDefault(d.SessionID, d)
	return nil
}

func (s *MemoryStore) LoadDraft(_ context.Context, sessionID string) (Draft, error) {
	v, ok := s.items.Get(sessionID)
	if !ok {
		return Draft{}, ErrNotFound
	}
	return v.(Draft), nil
}

func (s *MemoryStore) DeleteDraft(_ context.Context, sessionID string) error {
	s.items.Delete(sessionID)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.items.Flush()
	return nil
}
