// Package stash stores job kwargs out-of-band with a TTL.
//
// The dispatcher writes each payload once under a job-scoped key; exactly
// one worker reads and deletes it. Large payloads therefore never travel
// through the queue itself, and abandoned entries expire on their own.
package stash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key is absent or already consumed.
var ErrNotFound = errors.New("stash: not found")

// Stash is the single-writer-single-reader kwargs handoff.
type Stash interface {
	Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error
	Get(ctx context.Context, key string) (map[string]any, error)
	Delete(ctx context.Context, key string) error
}

// Redis is the production stash backed by a Redis instance.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a stash from a Redis URL.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("stash: parse redis url: %w", err)
	}
	return &Redis{client: redis.NewClient(opts)}, nil
}

// Ping checks connectivity.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Redis) Close() error { return s.client.Close() }

func (s *Redis) Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("stash: marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, b, ttl).Err(); err != nil {
		return fmt.Errorf("stash: set %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Get(ctx context.Context, key string) (map[string]any, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stash: get %s: %w", key, err)
	}
	var value map[string]any
	if err := json.Unmarshal(b, &value); err != nil {
		return nil, fmt.Errorf("stash: unmarshal %s: %w", key, err)
	}
	return value, nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("stash: delete %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process stash for tests and single-node development.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   map[string]any
	expires time.Time
}

// NewMemory creates an empty in-memory stash.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (s *Memory) Put(_ context.Context, key string, value map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (s *Memory) Get(_ context.Context, key string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
