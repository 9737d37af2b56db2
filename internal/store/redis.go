package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second

	redisKeyPrefix = "leafspy:entity:"
)

// RedisStore keeps one JSON value per entity under leafspy:entity:<id>.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to url (redis://...) and validates the connection
// with PING.
func NewRedisStore(url string) (*RedisStore, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opts.DialTimeout = defaultDialTimeout
	opts.ReadTimeout = defaultReadTimeout
	opts.WriteTimeout = defaultWriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) key(id string) string {
	return redisKeyPrefix + id
}

// Load scans all entity keys and decodes them. Undecodable values are
// skipped and reported in the returned error alongside the valid records.
func (s *RedisStore) Load(ctx context.Context) ([]Record, error) {
	records := make(map[string]Record)
	var errs []error

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: get %s: %w", key, err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			errs = append(errs, fmt.Errorf("redis: decode %s: %w", key, err))
			continue
		}
		records[rec.ID()] = rec
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan: %w", err)
	}
	return sortedRecords(records), errors.Join(errs...)
}

// Save stores rec without expiry.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(rec.ID()), data, 0).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
