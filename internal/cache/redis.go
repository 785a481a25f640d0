package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the production cache backend. Entries are stored as JSON with
// Redis-native TTL, so logical and physical expiry coincide.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance at url (redis://host:port/db) and
// verifies the connection.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		return nil, false, nil
	}
	if entry.Expired(time.Now()) {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (r *Redis) Save(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	stored := *entry
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache save failed: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
