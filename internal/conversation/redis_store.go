package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "hub-bots:conversation:"

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps each context as one JSON document and updates it inside
// WATCH/MULTI transactions, retrying when another writer got there first.
type RedisStore struct {
	client   *redis.Client
	settings settings
}

// OpenRedisStore connects to the server described by a redis:// URL and
// checks it is reachable.
func OpenRedisStore(ctx context.Context, rawURL string, opts ...Option) (*RedisStore, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	return &RedisStore{client: client, settings: newSettings(opts)}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) GetOrCreate(ctx context.Context, instanceID, userID string) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}
	key := redisKey(instanceID, userID)

	encoded, err := json.Marshal(newContext(instanceID, userID, s.settings.now()))
	if err != nil {
		return Context{}, fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.client.SetNX(ctx, key, encoded, 0).Err(); err != nil {
		return Context{}, fmt.Errorf("create conversation: %w", mapRedisErr(err))
	}

	rec, found, err := s.load(ctx, s.client, key)
	if err != nil {
		return Context{}, err
	}
	if !found {
		return Context{}, fmt.Errorf("get conversation %s/%s: record vanished", instanceID, userID)
	}
	return rec, nil
}

func (s *RedisStore) Read(ctx context.Context, instanceID, userID string) ([]Turn, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return nil, err
	}
	rec, found, err := s.load(ctx, s.client, redisKey(instanceID, userID))
	if err != nil {
		return nil, err
	}
	if !found {
		return []Turn{}, nil
	}
	return rec.Turns, nil
}

func (s *RedisStore) AppendExchange(ctx context.Context, instanceID, userID, userMessage, reply string, at time.Time) (Context, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return Context{}, err
	}

	var out Context
	err := s.update(ctx, redisKey(instanceID, userID), func(rec *Context, found bool) bool {
		if !found {
			*rec = newContext(instanceID, userID, s.settings.now())
		}
		rec.Turns = Prune(append(rec.Turns, exchange(userMessage, reply, at)...), s.settings.maxTurns)
		rec.UpdatedAt = s.settings.now()
		out = *rec
		return true
	})
	if err != nil {
		return Context{}, fmt.Errorf("append exchange for %s/%s: %w", instanceID, userID, err)
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, instanceID, userID string) (bool, error) {
	if err := validateKey(instanceID, userID); err != nil {
		return false, err
	}

	existed := false
	err := s.update(ctx, redisKey(instanceID, userID), func(rec *Context, found bool) bool {
		existed = found
		if !found {
			return false
		}
		rec.Turns = []Turn{}
		rec.UpdatedAt = s.settings.now()
		return true
	})
	if err != nil {
		return false, fmt.Errorf("clear conversation %s/%s: %w", instanceID, userID, err)
	}
	return existed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update runs mutate inside an optimistic transaction on key. mutate returns
// false to skip the write.
func (s *RedisStore) update(ctx context.Context, key string, mutate func(rec *Context, found bool) bool) error {
	txf := func(tx *redis.Tx) error {
		rec, found, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if !mutate(&rec, found) {
			return nil
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal conversation: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return mapRedisErr(err)
	}
	return ErrConflict
}

func (s *RedisStore) load(ctx context.Context, client stringGetter, key string) (Context, bool, error) {
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("get conversation: %w", mapRedisErr(err))
	}

	var rec Context
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Context{}, false, fmt.Errorf("decode conversation %s: %w", key, err)
	}
	if rec.Turns == nil {
		rec.Turns = []Turn{}
	}
	if rec.AppState == nil {
		rec.AppState = map[string]any{}
	}
	return rec, true, nil
}

func redisKey(instanceID, userID string) string {
	return redisKeyPrefix + instanceID + ":" + userID
}

func mapRedisErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return err
}
