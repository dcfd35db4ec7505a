// Package jobs stores job records for the job manager.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"route-decomposition-service/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "job:"

// RedisRegistry keeps job records as JSON values with a TTL so that several
// server processes share the handles and partial results of a job.
type RedisRegistry struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{Client: client, TTL: ttl}
}

// OpenRedisRegistry parses url (redis://...) and checks the server answers.
func OpenRedisRegistry(ctx context.Context, url string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisRegistry(client, ttl), nil
}

func (r *RedisRegistry) Get(ctx context.Context, jobID string) (ports.JobRecord, bool, error) {
	raw, err := r.Client.Get(ctx, keyPrefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return ports.JobRecord{}, false, nil
	}
	if err != nil {
		return ports.JobRecord{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	var rec ports.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return ports.JobRecord{}, false, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return rec, true, nil
}

func (r *RedisRegistry) Set(ctx context.Context, jobID string, rec ports.JobRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", jobID, err)
	}
	if err := r.Client.Set(ctx, keyPrefix+jobID, raw, r.TTL).Err(); err != nil {
		return fmt.Errorf("set job %s: %w", jobID, err)
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.Client.Close()
}
