package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/smartdigilab/backend/internal/services"
	"github.com/smartdigilab/backend/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referenceQuery = "SELECT COUNT\\(\\*\\) FROM borrowings WHERE request_letter_path = \\$1"

func newSweeper(t *testing.T) (*LetterSweeper, sqlmock.Sqlmock, redismock.ClientMock, afero.Fs) {
	t.Helper()

	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	redisClient, redisMock := redismock.NewClientMock()
	fs := afero.NewMemMapFs()

	sweeper := NewLetterSweeper(db, services.NewRedisOrphanQueue(redisClient), storage.NewDiskLetterStore(fs, 0), 0, nil)
	return sweeper, dbMock, redisMock, fs
}

func TestLetterSweeper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes unreferenced letters and keeps referenced ones", func(t *testing.T) {
		sweeper, dbMock, redisMock, fs := newSweeper(t)
		require.NoError(t, afero.WriteFile(fs, "request_letters/orphan.pdf", []byte("%PDF-1.4"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "request_letters/kept.pdf", []byte("%PDF-1.4"), 0o644))

		redisMock.ExpectLPop("orphaned_letters").SetVal("request_letters/orphan.pdf")
		redisMock.ExpectLPop("orphaned_letters").SetVal("request_letters/kept.pdf")
		redisMock.ExpectLPop("orphaned_letters").SetErr(redis.Nil)

		dbMock.ExpectQuery(referenceQuery).
			WithArgs("request_letters/orphan.pdf").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		dbMock.ExpectQuery(referenceQuery).
			WithArgs("request_letters/kept.pdf").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		removed, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		exists, _ := afero.Exists(fs, "request_letters/orphan.pdf")
		assert.False(t, exists)
		exists, _ = afero.Exists(fs, "request_letters/kept.pdf")
		assert.True(t, exists)

		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("requeues when the reference check fails", func(t *testing.T) {
		sweeper, dbMock, redisMock, _ := newSweeper(t)

		redisMock.ExpectLPop("orphaned_letters").SetVal("request_letters/a.png")
		redisMock.ExpectLPop("orphaned_letters").SetErr(redis.Nil)
		redisMock.ExpectRPush("orphaned_letters", "request_letters/a.png").SetVal(1)

		dbMock.ExpectQuery(referenceQuery).
			WithArgs("request_letters/a.png").
			WillReturnError(errors.New("connection reset"))

		removed, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("pop failure still requeues collected paths", func(t *testing.T) {
		sweeper, dbMock, redisMock, _ := newSweeper(t)

		redisMock.ExpectLPop("orphaned_letters").SetVal("request_letters/a.pdf")
		redisMock.ExpectLPop("orphaned_letters").SetErr(errors.New("redis blip"))
		redisMock.ExpectRPush("orphaned_letters", "request_letters/a.pdf").SetVal(1)

		dbMock.ExpectQuery(referenceQuery).
			WithArgs("request_letters/a.pdf").
			WillReturnError(errors.New("connection reset"))

		removed, err := sweeper.Sweep(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis blip")
		assert.Zero(t, removed)
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("queue failure", func(t *testing.T) {
		sweeper, _, redisMock, _ := newSweeper(t)

		redisMock.ExpectLPop("orphaned_letters").SetErr(errors.New("redis down"))

		_, err := sweeper.Sweep(ctx)
		assert.Error(t, err)
	})

	t.Run("no redis", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		sweeper := NewLetterSweeper(db, services.NewRedisOrphanQueue(nil), storage.NewDiskLetterStore(afero.NewMemMapFs(), 0), 0, nil)
		removed, err := sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}
