package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/internal/domain/workflow"
	"github.com/flowgraph-go/internal/execution/ports"
	"github.com/flowgraph-go/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const defaultKeyPrefix = "flowgraph:workflow:"

// RedisStore keeps definitions as JSON strings in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	// concurrent lookups of one id share a single round trip
	group singleflight.Group
}

// NewRedisStore creates a store. A zero ttl keeps definitions forever.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Get(ctx context.Context, id string) (*workflow.Definition, error) {
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		return s.client.Get(ctx, s.key(id)).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordDefinitionLookup("redis", false)
			return nil, fmt.Errorf("%w: %s", ports.ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	metrics.RecordDefinitionLookup("redis", true)
	return workflow.ParseDefinition(v.([]byte))
}

func (s *RedisStore) Put(ctx context.Context, id string, def *workflow.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a stored definition.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

// Ping checks if redis is available
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
