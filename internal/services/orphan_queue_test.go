package services

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisOrphanQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("push appends to the list", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		queue := NewRedisOrphanQueue(redisClient)

		redisMock.ExpectRPush("orphaned_letters", "request_letters/a.pdf").SetVal(1)

		require.NoError(t, queue.Push(ctx, "request_letters/a.pdf"))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("pop returns the oldest entry", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		queue := NewRedisOrphanQueue(redisClient)

		redisMock.ExpectLPop("orphaned_letters").SetVal("request_letters/a.pdf")

		letterPath, ok, err := queue.Pop(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "request_letters/a.pdf", letterPath)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("pop on empty queue", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		queue := NewRedisOrphanQueue(redisClient)

		redisMock.ExpectLPop("orphaned_letters").SetErr(redis.Nil)

		_, ok, err := queue.Pop(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("pop surfaces redis errors", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		queue := NewRedisOrphanQueue(redisClient)

		redisMock.ExpectLPop("orphaned_letters").SetErr(errors.New("connection refused"))

		_, ok, err := queue.Pop(ctx)
		assert.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("nil client is a no-op", func(t *testing.T) {
		queue := NewRedisOrphanQueue(nil)

		assert.NoError(t, queue.Push(ctx, "request_letters/a.pdf"))
		_, ok, err := queue.Pop(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)
	})
}
