package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// maxMutateRetries bounds optimistic transaction retries on key contention.
const maxMutateRetries = 50

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisSessionStore implements SessionStore on Redis. Each session is one JSON
// value under keyPrefix+userID.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client, keyPrefix string) (*RedisSessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "deepyt:session:"
	}
	return &RedisSessionStore{client: client, keyPrefix: keyPrefix}, nil
}

// Ping checks that Redis is reachable.
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisSessionStore) key(userID domain.UserID) string {
	return r.keyPrefix + userID.String()
}

// Get returns the stored session.
func (r *RedisSessionStore) Get(ctx context.Context, userID domain.UserID) (*domain.Session, error) {
	return r.load(ctx, r.client, r.key(userID))
}

// GetOrCreate returns the existing session or stores the one built by init.
func (r *RedisSessionStore) GetOrCreate(ctx context.Context, userID domain.UserID, init func() *domain.Session) (*domain.Session, error) {
	s, err := r.Get(ctx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return nil, err
	}

	s = init()
	s.UserID = userID
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.key(userID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if !ok {
		// Lost the race; return the winner.
		return r.Get(ctx, userID)
	}
	return s, nil
}

// Mutate applies fn inside a WATCH/MULTI transaction and retries on contention.
func (r *RedisSessionStore) Mutate(ctx context.Context, userID domain.UserID, fn func(s *domain.Session) error) (*domain.Session, error) {
	key := r.key(userID)
	var result *domain.Session

	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		data, err := sonic.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = s
		return nil
	}

	for i := 0; i < maxMutateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("mutate session %s: too much contention", userID)
}

// Delete removes the session.
func (r *RedisSessionStore) Delete(ctx context.Context, userID domain.UserID) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all sessions under the key prefix.
func (r *RedisSessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		s, err := r.load(ctx, r.client, iter.Val())
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r *RedisSessionStore) load(ctx context.Context, c stringGetter, key string) (*domain.Session, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s domain.Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
