package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements are idempotent and run in order. Borrowings reference
// equipment with ON DELETE RESTRICT: history is removed explicitly before an
// item is deleted so its letters can be cleaned up.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		role VARCHAR(16) NOT NULL CHECK (role IN ('admin', 'user')),
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS equipment (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		code VARCHAR(64) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		availability_status VARCHAR(16) NOT NULL CHECK (availability_status IN ('tersedia', 'dipinjam')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS borrowers (
		id BIGSERIAL PRIMARY KEY,
		nim VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		contact VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS borrowings (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
		borrower_id BIGINT NOT NULL REFERENCES borrowers(id) ON DELETE RESTRICT,
		equipment_id BIGINT NOT NULL REFERENCES equipment(id) ON DELETE RESTRICT,
		jumlah INTEGER NOT NULL CHECK (jumlah > 0),
		request_letter_path TEXT,
		borrow_date DATE NOT NULL,
		return_date DATE,
		status VARCHAR(16) NOT NULL CHECK (status IN ('dipinjam', 'dikembalikan')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((status = 'dikembalikan') = (return_date IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_user_created ON borrowings (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_equipment_status ON borrowings (equipment_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_letter ON borrowings (request_letter_path) WHERE request_letter_path IS NOT NULL`,
}

// InitSchema creates the tables and indexes inside one transaction
func InitSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
