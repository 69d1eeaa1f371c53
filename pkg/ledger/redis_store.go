package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. It suits deployments where
// conversations must survive individual process hosts.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Provider namespaces all keys (required).
	Provider string
	// TTL is the per-conversation expiry (0 = never expire).
	TTL time.Duration
	// PoolSize is the connection pool size (default 10).
	PoolSize int
}

// NewRedisStore creates a Redis-backed ledger store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Provider == "" {
		return nil, errors.New("provider namespace is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "parley:ledger:" + cfg.Provider + ":",
		ttl:    cfg.TTL,
	}, nil
}

// NewRedisStoreFromClient creates a store from an existing client. Useful
// for testing with miniredis.
func NewRedisStoreFromClient(client *redis.Client, provider string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "parley:ledger:" + provider + ":",
		ttl:    ttl,
	}
}

func (s *RedisStore) entriesKey(conversationID string) string {
	return s.prefix + "entries:" + conversationID
}

func (s *RedisStore) updatedKey(conversationID string) string {
	return s.prefix + "updated:" + conversationID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "ids"
}

// Append adds entries to a conversation's ledger.
func (s *RedisStore) Append(ctx context.Context, conversationID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	length, err := s.client.LLen(ctx, s.entriesKey(conversationID)).Result()
	if err != nil {
		return fmt.Errorf("ledger length: %w", err)
	}
	if err := validateSequence(int(length), entries); err != nil {
		return err
	}

	values := make([]any, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %d: %w", e.Index, err)
		}
		values[i] = data
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.entriesKey(conversationID), values...)
	pipe.Set(ctx, s.updatedKey(conversationID), time.Now().UTC().Format(time.RFC3339Nano), 0)
	pipe.SAdd(ctx, s.indexKey(), conversationID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.entriesKey(conversationID), s.ttl)
		pipe.Expire(ctx, s.updatedKey(conversationID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append entries: %w", err)
	}
	return nil
}

// Load retrieves all entries in order.
func (s *RedisStore) Load(ctx context.Context, conversationID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	raw, err := s.client.LRange(ctx, s.entriesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}

	entries := make([]Entry, len(raw))
	for i, item := range raw {
		if err := json.Unmarshal([]byte(item), &entries[i]); err != nil {
			return nil, fmt.Errorf("parse entry %d: %w", i, err)
		}
	}
	return entries, nil
}

// Reset removes a conversation's ledger.
func (s *RedisStore) Reset(ctx context.Context, conversationID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.entriesKey(conversationID), s.updatedKey(conversationID))
	pipe.SRem(ctx, s.indexKey(), conversationID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	return nil
}

// List returns summaries of all stored conversations, most recent first.
func (s *RedisStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		length, err := s.client.LLen(ctx, s.entriesKey(id)).Result()
		if err != nil {
			continue
		}
		if length == 0 {
			// Expired entries leave a dangling index member.
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}

		info := Info{ID: id, Entries: int(length)}
		if raw, err := s.client.Get(ctx, s.updatedKey(id)).Result(); err == nil {
			if t, terr := time.Parse(time.RFC3339Nano, raw); terr == nil {
				info.UpdatedAt = t
			}
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
