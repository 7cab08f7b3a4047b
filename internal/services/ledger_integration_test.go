package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/smartdigilab/backend/internal/database"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/storage"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// openTestDB connects to TEST_DATABASE_URL and resets the tables
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.InitSchema(ctx, db))
	resetTables(t, db)

	return db
}

func resetTables(t require.TestingT, db *sql.DB) {
	_, err := db.Exec(`TRUNCATE borrowings, borrowers, equipment, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO users (id, name, email, role, password_hash)
		VALUES (1, 'Admin', 'admin@smartdigilab.test', 'admin', 'x'),
		       (2, 'User', 'user@smartdigilab.test', 'user', 'x')`)
	require.NoError(t, err)
}

func seedEquipment(t require.TestingT, db *sql.DB, quantity int) int64 {
	var id int64
	err := db.QueryRow(`
		INSERT INTO equipment (name, code, quantity, availability_status)
		VALUES ('Oscilloscope', $1, $2, $3)
		RETURNING id`,
		fmt.Sprintf("OSC-%d-%d", quantity, os.Getpid()), quantity, models.AvailabilityFor(quantity)).Scan(&id)
	require.NoError(t, err)
	return id
}

func stockOf(t require.TestingT, db *sql.DB, equipmentID int64) (int, string) {
	var quantity int
	var status string
	err := db.QueryRow(`SELECT quantity, availability_status FROM equipment WHERE id = $1`, equipmentID).Scan(&quantity, &status)
	require.NoError(t, err)
	return quantity, status
}

func onLoan(t require.TestingT, db *sql.DB, equipmentID int64) int {
	var total int
	err := db.QueryRow(`
		SELECT COALESCE(SUM(jumlah), 0)
		FROM borrowings
		WHERE equipment_id = $1 AND status = $2`, equipmentID, models.BorrowingStatusBorrowed).Scan(&total)
	require.NoError(t, err)
	return total
}

func integrationService(db *sql.DB) *BorrowingService {
	letters := storage.NewDiskLetterStore(afero.NewMemMapFs(), 0)
	return NewBorrowingService(db, NewStockLedger(), letters, nil, nil)
}

func borrowInput(equipmentID int64, jumlah int, nim string) CreateBorrowingInput {
	return CreateBorrowingInput{
		BorrowerName:    "Siti Rahma",
		BorrowerNIM:     nim,
		BorrowerContact: "081234567890",
		EquipmentID:     equipmentID,
		Jumlah:          jumlah,
		BorrowDate:      "2025-03-10",
	}
}

func TestPostgres_BorrowReturnScenario(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	service := integrationService(db)
	equipmentID := seedEquipment(t, db, 5)

	first, err := service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, 2, "2021001"))
	require.NoError(t, err)

	_, err = service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, 3, "2021002"))
	require.NoError(t, err)

	quantity, status := stockOf(t, db, equipmentID)
	assert.Equal(t, 0, quantity)
	assert.Equal(t, models.AvailabilityBorrowed, status)

	_, err = service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, 1, "2021003"))
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = service.ReturnEquipment(ctx, adminUser, first.ID)
	require.NoError(t, err)

	quantity, status = stockOf(t, db, equipmentID)
	assert.Equal(t, 2, quantity)
	assert.Equal(t, models.AvailabilityAvailable, status)

	// returning twice changes nothing
	_, err = service.ReturnEquipment(ctx, adminUser, first.ID)
	require.NoError(t, err)
	quantity, _ = stockOf(t, db, equipmentID)
	assert.Equal(t, 2, quantity)
}

func TestPostgres_ConcurrentReserve(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	service := integrationService(db)
	equipmentID := seedEquipment(t, db, 1)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// the same nim also races the borrower insert
			_, err := service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, 1, "2021001"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	quantity, status := stockOf(t, db, equipmentID)
	assert.Equal(t, 0, quantity)
	assert.Equal(t, models.AvailabilityBorrowed, status)
}

func TestPostgres_DeleteRestoresStock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	service := integrationService(db)
	equipmentID := seedEquipment(t, db, 3)

	borrowing, err := service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, 3, "2021001"))
	require.NoError(t, err)

	require.NoError(t, service.DeleteBorrowing(ctx, adminUser, borrowing.ID))

	quantity, status := stockOf(t, db, equipmentID)
	assert.Equal(t, 3, quantity)
	assert.Equal(t, models.AvailabilityAvailable, status)
}

// Units on loan plus units on the shelf always equal the stock owned
func TestPostgres_ConservationProperty(t *testing.T) {
	db := openTestDB(t)
	service := integrationService(db)

	rapid.Check(t, func(rt *rapid.T) {
		resetTables(rt, db)
		ctx := context.Background()

		owned := rapid.IntRange(0, 6).Draw(rt, "owned")
		equipmentID := seedEquipment(rt, db, owned)
		var active []int64

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				jumlah := rapid.IntRange(1, 4).Draw(rt, "jumlah")
				b, err := service.CreateBorrowing(ctx, basicUser, borrowInput(equipmentID, jumlah, fmt.Sprintf("nim-%d", i)))
				if err == nil {
					active = append(active, b.ID)
				} else if !assert.ErrorIs(rt, err, ErrInsufficientStock) {
					rt.FailNow()
				}
			case 1:
				if len(active) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(active)-1).Draw(rt, "return")
				_, err := service.ReturnEquipment(ctx, adminUser, active[idx])
				require.NoError(rt, err)
			case 2:
				if len(active) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(active)-1).Draw(rt, "delete")
				require.NoError(rt, service.DeleteBorrowing(ctx, adminUser, active[idx]))
				active = append(active[:idx], active[idx+1:]...)
			}

			quantity, status := stockOf(rt, db, equipmentID)
			if quantity+onLoan(rt, db, equipmentID) != owned {
				rt.Fatalf("conservation broken: quantity %d + on loan %d != owned %d", quantity, onLoan(rt, db, equipmentID), owned)
			}
			if status != models.AvailabilityFor(quantity) {
				rt.Fatalf("availability %q does not match quantity %d", status, quantity)
			}
		}
	})
}
