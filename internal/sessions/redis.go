package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/estudaenem/tutor/internal/exam"
	"github.com/estudaenem/tutor/internal/model"
)

const maxUpdateAttempts = 10

// RedisStore keeps sessions as JSON values with a TTL, so any instance behind
// a load balancer can serve the next request of an exam.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore returns a RedisStore. Every Put refreshes the TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, id string) (exam.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return exam.Session{}, model.ErrSessionNotFound
	}
	if err != nil {
		return exam.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var s exam.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return exam.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) Put(ctx context.Context, s exam.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	return nil
}

// Update applies fn inside a WATCH/MULTI transaction on the session key and
// retries when another client changed the key first.
func (r *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (exam.Session, error) {
	key := r.key(id)
	var out exam.Session
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("get session %s: %w", id, err)
		}
		var s exam.Session
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode session %s: %w", id, err)
		}
		next, done, err := fn(s)
		if err != nil {
			return err
		}
		var encoded []byte
		if !done {
			if encoded, err = json.Marshal(next); err != nil {
				return fmt.Errorf("encode session %s: %w", id, err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if done {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, encoded, r.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	}

	for range maxUpdateAttempts {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return exam.Session{}, err
		}
		return out, nil
	}
	return exam.Session{}, fmt.Errorf("update session %s: gave up after %d conflicting writes", id, maxUpdateAttempts)
}

func (r *RedisStore) key(id string) string {
	return "exam:session:" + id
}
