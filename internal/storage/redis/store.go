// Package redis stores registry snapshots in Redis as a single JSON value.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "PluginSystem/internal/errors"
	"PluginSystem/internal/storage"
)

const defaultKey = "pluginsys:registry"

// Config describes how to reach Redis.
type Config struct {
	Address        string        `json:"address"`
	Password       string        `json:"password"`
	DB             int           `json:"db"`
	Key            string        `json:"key"`
	TTL            time.Duration `json:"ttl"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// Store implements storage.Store.
type Store struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	owned  bool
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrapf(xerrors.CodeStorageFailure, err, "connect to redis at %s", cfg.Address)
	}
	s := NewWithClient(client, cfg.Key, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client *goredis.Client, key string, ttl time.Duration) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{client: client, key: key, ttl: ttl}
}

// Save implements storage.Store.
func (s *Store) Save(ctx context.Context, snap storage.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return failure(err, "encode snapshot")
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return failure(err, "write snapshot")
	}
	return nil
}

// Load implements storage.Store.
func (s *Store) Load(ctx context.Context) (storage.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.Snapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Snapshot{}, failure(err, "read snapshot")
	}
	var snap storage.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return storage.Snapshot{}, failure(err, "decode snapshot")
	}
	return snap, nil
}

// Clear implements storage.Store.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return failure(err, "delete snapshot")
	}
	return nil
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return false, failure(err, "check snapshot")
	}
	return n > 0, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func failure(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "redis: "+message)
}
