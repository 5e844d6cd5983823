package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// GetJSON decodes the value stored at key into v. It reports false when the
// key does not exist.
func (ps *PubSub) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := ps.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis.PubSub.GetJSON: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("redis.PubSub.GetJSON: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v at key without expiry.
func (ps *PubSub) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis.PubSub.SetJSON: encode %s: %w", key, err)
	}
	if err := ps.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis.PubSub.SetJSON: %w", err)
	}
	return nil
}

// HealthStateKey is where the provider health monitor keeps its state.
const HealthStateKey = "timeproof:qtsp:health:state"
