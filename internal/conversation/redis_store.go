package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps dialog state in Redis as JSON with a sliding TTL.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, prefix: "conversation:"}
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, userID)
}

func (s *RedisStore) Get(ctx context.Context, userID int64) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to read conversation state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("failed to decode conversation state: %w", err)
	}
	if st.Fields == nil {
		st.Fields = Fields{}
	}
	return st, true, nil
}

func (s *RedisStore) Put(ctx context.Context, userID int64, state State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write conversation state: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}
