package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStates keeps rule states in one Redis hash so they survive restarts
// and can be shared by agents evaluating disjoint rule sets.
type RedisStates struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStates returns a StateStore backed by the hash at key.
func NewRedisStates(client redis.UniversalClient, key string) *RedisStates {
	return &RedisStates{client: client, key: key}
}

func (s *RedisStates) Get(ctx context.Context, ruleID string) (State, bool, error) {
	v, err := s.client.HGet(ctx, s.key, ruleID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("alarm: redis hget %s: %w", ruleID, err)
	}
	return State(v), true, nil
}

func (s *RedisStates) Set(ctx context.Context, ruleID string, st State) error {
	if err := s.client.HSet(ctx, s.key, ruleID, string(st)).Err(); err != nil {
		return fmt.Errorf("alarm: redis hset %s: %w", ruleID, err)
	}
	return nil
}

func (s *RedisStates) All(ctx context.Context) (map[string]State, error) {
	m, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("alarm: redis hgetall: %w", err)
	}
	out := make(map[string]State, len(m))
	for k, v := range m {
		out[k] = State(v)
	}
	return out, nil
}

// Prune removes states of rules not in keep, for targets dropped from the list.
func (s *RedisStates) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	ids, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("alarm: redis hkeys: %w", err)
	}
	var stale []string
	for _, id := range ids {
		if !keep[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, s.key, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("alarm: redis hdel: %w", err)
	}
	return int(n), nil
}
