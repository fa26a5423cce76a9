// Package lock provides a cross-instance booking.SlotLocker backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/consult-wallet/booking"
)

// NewRedisClient dials Redis and pings it once.
func NewRedisClient(ctx context.Context, addr, username, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     username,
		Password:     password,
		DB:           0,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// RedisSlotLocker takes a per-slot SETNX lock. It does not wait: a slot that
// is already being booked elsewhere fails fast with a busy SlotConflictError.
type RedisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSlotLocker(client *redis.Client, ttl time.Duration) *RedisSlotLocker {
	return &RedisSlotLocker{client: client, ttl: ttl}
}

var _ booking.SlotLocker = (*RedisSlotLocker)(nil)

func (l *RedisSlotLocker) WithSlotLock(ctx context.Context, doctorID booking.DoctorID, at time.Time, fn func(ctx context.Context) error) error {
	key := booking.SlotKey(doctorID, at)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return &booking.SlotConflictError{DoctorID: doctorID, At: at, Busy: true}
	}

	// Release even if the caller went away while fn ran.
	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	return fn(ctx)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// release deletes the key only if this holder still owns it.
func (l *RedisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}

func (l *RedisSlotLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
