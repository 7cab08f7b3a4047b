package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockEquipmentQuery = "SELECT id, name, code, quantity, availability_status FROM equipment WHERE id = \\$1 FOR UPDATE"
const updateEquipmentQuery = "UPDATE equipment SET quantity = \\$1, availability_status = \\$2, updated_at = \\$3 WHERE id = \\$4"

func equipmentRow(id int64, quantity int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "code", "quantity", "availability_status"}).
		AddRow(id, "Oscilloscope", "OSC-01", quantity, models.AvailabilityFor(quantity))
}

func beginTx(t *testing.T, db *sql.DB, mock sqlmock.Sqlmock) *sql.Tx {
	t.Helper()
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return tx
}

func TestStockLedger_Reserve(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewStockLedger()
	ctx := context.Background()

	t.Run("decrements quantity", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(1).
			WillReturnRows(equipmentRow(1, 5))
		mock.ExpectExec(updateEquipmentQuery).
			WithArgs(3, models.AvailabilityAvailable, sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		equipment, err := ledger.Reserve(ctx, tx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, equipment.Quantity)
		assert.Equal(t, models.AvailabilityAvailable, equipment.AvailabilityStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last unit flips availability", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(1).
			WillReturnRows(equipmentRow(1, 3))
		mock.ExpectExec(updateEquipmentQuery).
			WithArgs(0, models.AvailabilityBorrowed, sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		equipment, err := ledger.Reserve(ctx, tx, 1, 3)
		require.NoError(t, err)
		assert.Equal(t, 0, equipment.Quantity)
		assert.Equal(t, models.AvailabilityBorrowed, equipment.AvailabilityStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient stock leaves row untouched", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(1).
			WillReturnRows(equipmentRow(1, 0))

		_, err := ledger.Reserve(ctx, tx, 1, 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInsufficientStock))

		var fieldErr *FieldError
		require.True(t, errors.As(err, &fieldErr))
		assert.Equal(t, "jumlah", fieldErr.Field)
		assert.Contains(t, fieldErr.Message, "Stok alat tidak mencukupi")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown equipment", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(99).
			WillReturnError(sql.ErrNoRows)

		_, err := ledger.Reserve(ctx, tx, 99, 1)
		assert.True(t, errors.Is(err, ErrEquipmentNotFound))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		_, err := ledger.Reserve(ctx, tx, 1, 0)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStockLedger_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewStockLedger()
	ctx := context.Background()

	t.Run("increments quantity and marks available", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(1).
			WillReturnRows(equipmentRow(1, 0))
		mock.ExpectExec(updateEquipmentQuery).
			WithArgs(2, models.AvailabilityAvailable, sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		equipment, err := ledger.Release(ctx, tx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, equipment.Quantity)
		assert.Equal(t, models.AvailabilityAvailable, equipment.AvailabilityStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("equipment removed", func(t *testing.T) {
		tx := beginTx(t, db, mock)

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(7).
			WillReturnError(sql.ErrNoRows)

		_, err := ledger.Release(ctx, tx, 7, 1)
		assert.True(t, errors.Is(err, ErrEquipmentNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update error is wrapped", func(t *testing.T) {
		tx := beginTx(t, db, mock)
		dbErr := errors.New("connection reset")

		mock.ExpectQuery(lockEquipmentQuery).
			WithArgs(1).
			WillReturnRows(equipmentRow(1, 1))
		mock.ExpectExec(updateEquipmentQuery).
			WillReturnError(dbErr)

		_, err := ledger.Release(ctx, tx, 1, 1)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStockLedger_Lock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ledger := NewStockLedger()
	tx := beginTx(t, db, mock)

	mock.ExpectQuery(lockEquipmentQuery).
		WithArgs(4).
		WillReturnRows(equipmentRow(4, 6))

	equipment, err := ledger.Lock(context.Background(), tx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), equipment.ID)
	assert.Equal(t, 6, equipment.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}
