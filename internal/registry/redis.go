package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the session registry with Redis so multiple nodes can
// share one lock table. Locks are individual keys written with SET NX PX,
// which makes acquisition atomic and expiry native: Redis drops the key
// when the TTL runs out, no pruning pass required.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "collab:",
	}
}

func (s *RedisStore) sessionKey(documentID string) string {
	return s.prefix + "session:" + documentID
}

func (s *RedisStore) lockKey(documentID, lockType, resourceID string) string {
	return s.prefix + "lock:" + documentID + ":" + lockType + ":" + resourceID
}

func (s *RedisStore) GetSession(ctx context.Context, documentID string) (*Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	locks, err := s.loadLocks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	session.Locks = locks
	return &session, nil
}

func (s *RedisStore) SaveSession(ctx context.Context, session *Session) error {
	raw, err := marshalSession(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.sessionKey(session.DocumentID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) CreateSession(ctx context.Context, session *Session) (bool, error) {
	raw, err := marshalSession(session)
	if err != nil {
		return false, err
	}
	created, err := s.client.SetNX(ctx, s.sessionKey(session.DocumentID), raw, 0).Result()
	if err != nil {
		return false, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, s.sessionKey(documentID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	// Locks expire on their own; drop them eagerly anyway.
	iter := s.client.Scan(ctx, 0, s.prefix+"lock:"+documentID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("delete session lock: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan session locks: %w", err)
	}
	return nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]*Session, error) {
	sessions := make([]*Session, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"session:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", iter.Val(), err)
		}
		var session Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", iter.Val(), err)
		}
		locks, err := s.loadLocks(ctx, session.DocumentID)
		if err != nil {
			return nil, err
		}
		session.Locks = locks
		sessions = append(sessions, &session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return sessions, nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, documentID string, lock Lock) (bool, error) {
	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}
	raw, err := json.Marshal(lock)
	if err != nil {
		return false, fmt.Errorf("marshal lock: %w", err)
	}
	key := s.lockKey(documentID, lock.Type, lock.ResourceID)
	acquired, err := s.client.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return acquired, nil
}

func (s *RedisStore) RenewLock(ctx context.Context, documentID, lockType, resourceID, userID string, expiresAt time.Time) (bool, error) {
	key := s.lockKey(documentID, lockType, resourceID)
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lock: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return false, fmt.Errorf("unmarshal lock: %w", err)
	}
	if lock.LockedBy != userID {
		return false, nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return false, nil
	}
	lock.ExpiresAt = expiresAt
	renewed, err := json.Marshal(lock)
	if err != nil {
		return false, fmt.Errorf("marshal lock: %w", err)
	}
	// XX keeps the renewal from resurrecting a lock that expired between
	// the read and the write.
	set, err := s.client.SetXX(ctx, key, renewed, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return set, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, documentID, lockType, resourceID string) error {
	if err := s.client.Del(ctx, s.lockKey(documentID, lockType, resourceID)).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (s *RedisStore) loadLocks(ctx context.Context, documentID string) ([]Lock, error) {
	locks := make([]Lock, 0)
	iter := s.client.Scan(ctx, 0, s.prefix+"lock:"+documentID+":*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get lock %s: %w", iter.Val(), err)
		}
		var lock Lock
		if err := json.Unmarshal([]byte(raw), &lock); err != nil {
			return nil, fmt.Errorf("unmarshal lock %s: %w", iter.Val(), err)
		}
		locks = append(locks, lock)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan locks: %w", err)
	}
	return locks, nil
}

// marshalSession persists the session without its locks; the lock table
// lives in its own TTL-bearing keys.
func marshalSession(session *Session) ([]byte, error) {
	copied := *session
	copied.Locks = nil
	raw, err := json.Marshal(&copied)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return raw, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
