package services

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

const orphanedLettersKey = "orphaned_letters"

// OrphanQueue collects stored letters whose borrowing never committed
type OrphanQueue interface {
	Push(ctx context.Context, letterPath string) error
	// Pop returns ok=false once the queue is empty
	Pop(ctx context.Context) (letterPath string, ok bool, err error)
}

type RedisOrphanQueue struct {
	redis *redis.Client
}

func NewRedisOrphanQueue(redisClient *redis.Client) *RedisOrphanQueue {
	return &RedisOrphanQueue{redis: redisClient}
}

func (q *RedisOrphanQueue) Push(ctx context.Context, letterPath string) error {
	if q.redis == nil {
		return nil
	}
	return q.redis.RPush(ctx, orphanedLettersKey, letterPath).Err()
}

func (q *RedisOrphanQueue) Pop(ctx context.Context) (string, bool, error) {
	if q.redis == nil {
		return "", false, nil
	}

	letterPath, err := q.redis.LPop(ctx, orphanedLettersKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return letterPath, true, nil
}
