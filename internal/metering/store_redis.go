package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldInput  = "input"
	fieldOutput = "output"

	// Counters outlive their month so late reads of the previous period still work.
	usageKeyTTL = 40 * 24 * time.Hour
)

// RedisUsageStore keeps usage counters in Redis hashes and delegates
// policies and memberships to another store, usually Postgres.
type RedisUsageStore struct {
	client   goredis.UniversalClient
	policies PolicyStore
	prefix   string
}

func NewRedisUsageStore(client goredis.UniversalClient, policies PolicyStore, prefix string) *RedisUsageStore {
	if prefix == "" {
		prefix = "assistant:usage"
	}
	return &RedisUsageStore{client: client, policies: policies, prefix: prefix}
}

func (s *RedisUsageStore) key(kind OwnerKind, ownerID, period string) string {
	return fmt.Sprintf("%s:%s:%s:%s", s.prefix, kind, ownerID, period)
}

func (s *RedisUsageStore) Usage(ctx context.Context, kind OwnerKind, ownerID, period string) (UsageRecord, error) {
	record := UsageRecord{OwnerID: ownerID, OwnerKind: kind, Period: period}
	values, err := s.client.HMGet(ctx, s.key(kind, ownerID, period), fieldInput, fieldOutput).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return record, nil
		}
		return UsageRecord{}, fmt.Errorf("redis usage: %w", err)
	}
	record.InputUnits, err = parseCounter(values, 0)
	if err != nil {
		return UsageRecord{}, err
	}
	record.OutputUnits, err = parseCounter(values, 1)
	if err != nil {
		return UsageRecord{}, err
	}
	return record, nil
}

func parseCounter(values []any, idx int) (int64, error) {
	if idx >= len(values) || values[idx] == nil {
		return 0, nil
	}
	raw, ok := values[idx].(string)
	if !ok {
		return 0, fmt.Errorf("redis usage: unexpected counter type %T", values[idx])
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis usage: parse counter: %w", err)
	}
	return n, nil
}

// IncrementUsage bumps both counters in one MULTI/EXEC.
func (s *RedisUsageStore) IncrementUsage(ctx context.Context, kind OwnerKind, ownerID, period string, input, output int64) error {
	key := s.key(kind, ownerID, period)
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, fieldInput, input)
		pipe.HIncrBy(ctx, key, fieldOutput, output)
		pipe.Expire(ctx, key, usageKeyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis increment usage: %w", err)
	}
	return nil
}

func (s *RedisUsageStore) Limits(ctx context.Context, kind OwnerKind, ownerID string) (LimitPolicy, error) {
	if s.policies == nil {
		return LimitPolicy{}, nil
	}
	return s.policies.Limits(ctx, kind, ownerID)
}

func (s *RedisUsageStore) Organizations(ctx context.Context, userID string) ([]string, error) {
	if s.policies == nil {
		return nil, nil
	}
	return s.policies.Organizations(ctx, userID)
}
