package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "lagcast:snapshot:"
	artifactKeyPrefix = "lagcast:artifact:"
)

// RedisStore implements Store and ArtifactStore on Redis, so several
// forecaster instances can serve the same results. Snapshots expire after
// the configured TTL; artifacts are kept until overwritten.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to addr and verifies the connection with PING.
// A zero ttl defaults to 30 minutes.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 30 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// Put stores s under "lagcast:snapshot:{series}" with the store TTL.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if err := validateName("series", s.Series); err != nil {
		return err
	}
	return r.setJSON(ctx, snapshotKeyPrefix+s.Series, s, r.ttl)
}

// GetLatest returns the snapshot for series. A missing key is not an error.
func (r *RedisStore) GetLatest(ctx context.Context, series string) (Snapshot, bool, error) {
	if series == "" {
		return Snapshot{}, false, errors.New("series name required")
	}
	var s Snapshot
	found, err := r.getJSON(ctx, snapshotKeyPrefix+series, &s)
	return s, found, err
}

// PutArtifact stores a under "lagcast:artifact:{name}" without expiry.
func (r *RedisStore) PutArtifact(ctx context.Context, a Artifact) error {
	if err := validateName("artifact", a.Name); err != nil {
		return err
	}
	return r.setJSON(ctx, artifactKeyPrefix+a.Name, a, 0)
}

// GetArtifact returns the artifact stored under name.
func (r *RedisStore) GetArtifact(ctx context.Context, name string) (Artifact, bool, error) {
	if name == "" {
		return Artifact{}, false, errors.New("artifact name required")
	}
	var a Artifact
	found, err := r.getJSON(ctx, artifactKeyPrefix+name, &a)
	return a, found, err
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s in redis: %w", key, err)
	}
	return nil
}

func (r *RedisStore) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Close closes the Redis client. It is safe to call more than once.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
