package webull

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis the token store needs.
// *redis.Client and *redis.ClusterClient both satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Close() error
}

// RedisTokenStore keeps the token in Redis so several processes can share one
// session. Writes are last-writer-wins.
type RedisTokenStore struct {
	client    RedisClient
	key       string
	retention time.Duration
	logger    *slog.Logger
}

// NewRedisClient creates a single-node go-redis client from cfg.
func NewRedisClient(cfg TokenStoreConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
}

// NewRedisTokenStore stores the token under key. retention bounds how long a
// stored token (and its refresh token) survives; 0 keeps it forever.
func NewRedisTokenStore(client RedisClient, key string, retention time.Duration, logger *slog.Logger) *RedisTokenStore {
	return &RedisTokenStore{
		client:    client,
		key:       key,
		retention: retention,
		logger:    loggerOrDefault(logger),
	}
}

func (s *RedisTokenStore) GetToken(ctx context.Context) (*AccessToken, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, &NetworkError{Op: "redis get", Err: err}
	}

	var token AccessToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, &SerializationError{Err: err}
	}
	return &token, nil
}

func (s *RedisTokenStore) StoreToken(ctx context.Context, token AccessToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return &SerializationError{Err: err}
	}
	if err := s.client.Set(ctx, s.key, raw, s.retention).Err(); err != nil {
		return &NetworkError{Op: "redis set", Err: err}
	}
	s.logger.Debug("Stored token in redis",
		"function", "StoreToken",
		"key", s.key,
		"expires_at", token.ExpiresAt)
	return nil
}

func (s *RedisTokenStore) ClearToken(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return &NetworkError{Op: "redis del", Err: err}
	}
	return nil
}

// Close releases the underlying redis client.
func (s *RedisTokenStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
