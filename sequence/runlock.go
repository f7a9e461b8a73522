package sequence

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRunLock serializes batch passes across processes with a SETNX lease.
// The TTL covers a worst-case run so a crashed holder cannot wedge the
// scheduler forever.
type RedisRunLock struct {
	Client *redis.Client
	Key    string
	TTL    time.Duration
}

func NewRedisRunLock(client *redis.Client) *RedisRunLock {
	return &RedisRunLock{
		Client: client,
		Key:    "leadpilot:sequence_run_lock",
		TTL:    30 * time.Minute,
	}
}

func (l *RedisRunLock) TryLock(ctx context.Context) (func(), bool, error) {
	ok, err := l.Client.SetNX(ctx, l.Key, time.Now().Format(time.RFC3339), l.TTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		l.Client.Del(context.Background(), l.Key)
	}
	return release, true, nil
}
