package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/labportal/internal/config"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this store writes.
const keyPrefix = "labportal:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	kvStore      *kvStore
	userStore    *userStore
	sessionStore *sessionStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:       client,
		kvStore:      &kvStore{client: client},
		userStore:    &userStore{client: client, createScript: redis.NewScript(createUserScript)},
		sessionStore: &sessionStore{client: client},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// KV returns the KVStore implementation
func (s *Store) KV() storage.KVStore {
	return s.kvStore
}

// Users returns the UserStore implementation
func (s *Store) Users() storage.UserStore {
	return s.userStore
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}
