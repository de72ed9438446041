package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jgirmay/slidegenie-realtime/pkg/config"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
)

const slideLockPrefix = "slidegenie:slidelock:"

// acquireScript sets KEYS[1] unless another holder owns it. Expiry is
// delegated to the key TTL.
var acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, lock = pcall(cjson.decode, cur)
  if ok and lock.user_id ~= ARGV[2] then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
  return 0
end
local ok, lock = pcall(cjson.decode, cur)
if ok and lock.user_id == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLockStore shares slide locks between instances through Redis keys
// with a PX expiry.
type RedisLockStore struct {
	client *redis.Client
}

func NewRedisLockStore(client *redis.Client) *RedisLockStore {
	return &RedisLockStore{client: client}
}

// NewRedisClient connects and pings with a short timeout.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

func slideLockKey(presentationID, slideID string) string {
	return slideLockPrefix + presentationID + ":" + slideID
}

func (s *RedisLockStore) Acquire(ctx context.Context, lock models.SlideLock, now time.Time) (bool, error) {
	ttl := lock.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return false, fmt.Errorf("lock for slide %s already expired", lock.SlideID)
	}
	payload, err := json.Marshal(lock)
	if err != nil {
		return false, err
	}

	n, err := acquireScript.Run(ctx, s.client,
		[]string{slideLockKey(lock.PresentationID, lock.SlideID)},
		string(payload), lock.HolderID, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("acquire slide lock: %w", err)
	}
	return n == 1, nil
}

func (s *RedisLockStore) Release(ctx context.Context, presentationID, slideID, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{slideLockKey(presentationID, slideID)}, holderID).Int()
	if err != nil {
		return false, fmt.Errorf("release slide lock: %w", err)
	}
	return n > 0, nil
}

func (s *RedisLockStore) Get(ctx context.Context, presentationID, slideID string, now time.Time) (*models.SlideLock, error) {
	raw, err := s.client.Get(ctx, slideLockKey(presentationID, slideID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lock models.SlideLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, fmt.Errorf("decode slide lock: %w", err)
	}
	if lock.ExpiredAt(now) {
		return nil, nil
	}
	return &lock, nil
}

func (s *RedisLockStore) List(ctx context.Context, presentationID string, now time.Time) ([]models.SlideLock, error) {
	keys, err := s.scan(ctx, slideLockPrefix+presentationID+":*")
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []models.SlideLock
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var lock models.SlideLock
		if json.Unmarshal([]byte(str), &lock) == nil && !lock.ExpiredAt(now) {
			out = append(out, lock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlideID < out[j].SlideID })
	return out, nil
}

// PurgeExpired is a no-op: Redis drops keys when their TTL elapses.
func (s *RedisLockStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisLockStore) Count(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx, slideLockPrefix+"*")
	return len(keys), err
}

func (s *RedisLockStore) scan(ctx context.Context, match string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
