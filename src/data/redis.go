package data

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockPrefix  = "tasklock:"
	streamStars = "leaderboard.stars"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// PublishStarWinner emits a star-of-the-week selection to the redis stream
// consumed by the notification layer.
func PublishStarWinner(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamStars,
		Values: payload,
	}).Result()
	return err
}

// TaskLock is a lock-with-expiry over redis SET NX. Each process gets a
// unique holder id; a crashed holder's lock reclaims itself when the TTL
// runs out. Used defensively against concurrent scheduler instances, not
// required for single-instance correctness.
type TaskLock struct {
	rdb    *redis.Client
	holder string
}

func NewTaskLock(rdb *redis.Client) *TaskLock {
	return &TaskLock{rdb: rdb, holder: uuid.NewString()}
}

// Acquire returns true when this holder owns the key for the TTL window.
// Re-acquiring a key this holder already owns succeeds and refreshes the TTL.
func (l *TaskLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	full := lockPrefix + key
	ok, err := l.rdb.SetNX(ctx, full, l.holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	val, err := l.rdb.Get(ctx, full).Result()
	if err == redis.Nil {
		// Expired between SetNX and Get; next tick retries.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if val == l.holder {
		l.rdb.Expire(ctx, full, ttl)
		return true, nil
	}
	return false, nil
}

// Release drops the lock if this holder still owns it. Best effort: an
// expired-and-stolen lock is left alone.
func (l *TaskLock) Release(ctx context.Context, key string) {
	full := lockPrefix + key
	val, err := l.rdb.Get(ctx, full).Result()
	if err != nil || val != l.holder {
		return
	}
	if err := l.rdb.Del(ctx, full).Err(); err != nil {
		log.Printf("tasklock: release %s: %v", key, err)
	}
}
