// Package redis keeps authorization states in Redis so that any instance
// behind a load balancer can consume a state issued by another.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sa "github.com/panyam/socialauth"
)

// DefaultKeyPrefix namespaces state keys.
const DefaultKeyPrefix = "authstate:"

// Connect parses redisURL and pings the server before returning the client.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// StateStore implements sa.StateStore. Entries expire with the state's TTL and
// Take uses GETDEL so a state is handed out at most once.
type StateStore struct {
	rdb       redis.Cmdable
	KeyPrefix string
	Now       func() time.Time
}

func NewStateStore(rdb redis.Cmdable) *StateStore {
	return &StateStore{rdb: rdb, KeyPrefix: DefaultKeyPrefix, Now: time.Now}
}

func (s *StateStore) key(value string) string {
	return s.KeyPrefix + value
}

func (s *StateStore) Put(ctx context.Context, state *sa.AuthState) error {
	ttl := state.ExpiresAt.Sub(s.Now())
	if ttl <= 0 {
		return fmt.Errorf("state already expired")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(state.Value), data, ttl).Err(); err != nil {
		return fmt.Errorf("storing state: %w", err)
	}
	return nil
}

func (s *StateStore) Take(ctx context.Context, value string) (*sa.AuthState, error) {
	raw, err := s.rdb.GetDel(ctx, s.key(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sa.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taking state: %w", err)
	}

	var state sa.AuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if state.IsExpired(s.Now()) {
		return nil, sa.ErrStateNotFound
	}
	return &state, nil
}
