package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
	"github.com/redis/go-redis/v9"
)

// MemoryTokenCache keeps token pairs for the lifetime of the process
type MemoryTokenCache struct {
	mu    sync.RWMutex
	pairs map[string]core.TokenPair
}

// NewMemoryTokenCache creates an empty in-memory token cache
func NewMemoryTokenCache() ports.TokenCache {
	return &MemoryTokenCache{pairs: make(map[string]core.TokenPair)}
}

func (c *MemoryTokenCache) Save(ctx context.Context, address string, pair core.TokenPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairs[strings.ToLower(address)] = pair
	return nil
}

func (c *MemoryTokenCache) Load(ctx context.Context, address string) (core.TokenPair, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pair, ok := c.pairs[strings.ToLower(address)]
	if !ok {
		return core.TokenPair{}, core.ErrTokenNotFound
	}
	return pair, nil
}

func (c *MemoryTokenCache) Clear(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pairs, strings.ToLower(address))
	return nil
}

type cachedPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RedisTokenCache persists token pairs so a restarted client can resume its session
type RedisTokenCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTokenCache creates a Redis backed token cache.
// Entries expire after ttl; zero keeps them until cleared.
func NewRedisTokenCache(client *redis.Client, ttl time.Duration) ports.TokenCache {
	return &RedisTokenCache{
		client: client,
		prefix: "sentry:session:",
		ttl:    ttl,
	}
}

func (c *RedisTokenCache) Save(ctx context.Context, address string, pair core.TokenPair) error {
	payload, err := json.Marshal(cachedPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.ExpiresIn / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal token pair: %w", err)
	}

	if err := c.client.Set(ctx, c.key(address), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Load(ctx context.Context, address string) (core.TokenPair, error) {
	payload, err := c.client.Get(ctx, c.key(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.TokenPair{}, core.ErrTokenNotFound
		}
		return core.TokenPair{}, fmt.Errorf("failed to load token pair: %w", err)
	}

	var cached cachedPair
	if err := json.Unmarshal(payload, &cached); err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to unmarshal token pair: %w", err)
	}

	return core.TokenPair{
		AccessToken:  cached.AccessToken,
		RefreshToken: cached.RefreshToken,
		ExpiresIn:    time.Duration(cached.ExpiresIn) * time.Second,
	}, nil
}

func (c *RedisTokenCache) Clear(ctx context.Context, address string) error {
	if err := c.client.Del(ctx, c.key(address)).Err(); err != nil {
		return fmt.Errorf("failed to clear token pair: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) key(address string) string {
	return c.prefix + strings.ToLower(address)
}
