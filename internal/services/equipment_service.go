package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/storage"
	"go.uber.org/zap"
)

type CreateEquipmentInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description" validate:"max=2000"`
	Quantity    int    `json:"quantity" validate:"min=0"`
}

// UpdateEquipmentInput carries catalogue details only; stock moves through
// the ledger.
type UpdateEquipmentInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description" validate:"max=2000"`
}

type EquipmentService struct {
	db        *sql.DB
	ledger    *StockLedger
	letters   storage.LetterStore
	qr        *QRService
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewEquipmentService(db *sql.DB, ledger *StockLedger, letters storage.LetterStore, qr *QRService, logger *zap.Logger) *EquipmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EquipmentService{
		db:        db,
		ledger:    ledger,
		letters:   letters,
		qr:        qr,
		validator: NewValidationHelper(),
		logger:    logger.Named("equipment"),
	}
}

const equipmentColumns = `id, name, code, description, quantity, availability_status, created_at, updated_at`

// ListAvailable lists equipment that can be borrowed right now
func (s *EquipmentService) ListAvailable(ctx context.Context) ([]models.Equipment, error) {
	return s.queryEquipment(ctx, `
		SELECT `+equipmentColumns+`
		FROM equipment
		WHERE availability_status = $1 AND quantity > 0
		ORDER BY name`, models.AvailabilityAvailable)
}

func (s *EquipmentService) List(ctx context.Context, principal models.Principal) ([]models.Equipment, error) {
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	return s.queryEquipment(ctx, `
		SELECT `+equipmentColumns+`
		FROM equipment
		ORDER BY name`)
}

func (s *EquipmentService) Get(ctx context.Context, id int64) (*models.Equipment, error) {
	var e models.Equipment
	err := s.db.QueryRowContext(ctx, `
		SELECT `+equipmentColumns+`
		FROM equipment
		WHERE id = $1`, id).Scan(
		&e.ID, &e.Name, &e.Code, &e.Description, &e.Quantity, &e.AvailabilityStatus, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEquipmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get equipment %d: %w", id, err)
	}
	return &e, nil
}

// Create registers an item with its initial stock
func (s *EquipmentService) Create(ctx context.Context, principal models.Principal, input CreateEquipmentInput) (*models.Equipment, error) {
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	e := models.Equipment{
		Name:               input.Name,
		Code:               input.Code,
		Description:        input.Description,
		Quantity:           input.Quantity,
		AvailabilityStatus: models.AvailabilityFor(input.Quantity),
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO equipment (name, code, description, quantity, availability_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		e.Name, e.Code, e.Description, e.Quantity, e.AvailabilityStatus,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, equipmentWriteError(err)
	}

	s.logger.Info("equipment created", zap.Int64("equipment_id", e.ID), zap.String("code", e.Code), zap.Int("quantity", e.Quantity))
	return &e, nil
}

func (s *EquipmentService) Update(ctx context.Context, principal models.Principal, id int64, input UpdateEquipmentInput) (*models.Equipment, error) {
	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	var e models.Equipment
	err := s.db.QueryRowContext(ctx, `
		UPDATE equipment
		SET name = $1, code = $2, description = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING `+equipmentColumns,
		input.Name, input.Code, input.Description, id,
	).Scan(&e.ID, &e.Name, &e.Code, &e.Description, &e.Quantity, &e.AvailabilityStatus, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEquipmentNotFound
	}
	if err != nil {
		return nil, equipmentWriteError(err)
	}

	return &e, nil
}

// Delete removes an item and its returned borrowing history. Items with
// units still on loan cannot be deleted.
func (s *EquipmentService) Delete(ctx context.Context, principal models.Principal, id int64) error {
	if !principal.IsAdmin() {
		return ErrUnauthorized
	}

	letterPaths, err := s.deleteEquipment(ctx, id)
	if err != nil {
		return err
	}

	for _, letterPath := range letterPaths {
		if err := s.letters.Delete(ctx, letterPath); err != nil {
			s.logger.Warn("failed to delete request letter",
				zap.Int64("equipment_id", id),
				zap.String("path", letterPath),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("equipment deleted", zap.Int64("equipment_id", id), zap.Int("letters_removed", len(letterPaths)))
	return nil
}

func (s *EquipmentService) deleteEquipment(ctx context.Context, id int64) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// the row lock keeps new borrowings out until the delete commits
	if _, err := s.ledger.Lock(ctx, tx, id); err != nil {
		return nil, err
	}

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM borrowings
		WHERE equipment_id = $1 AND status = $2`,
		id, models.BorrowingStatusBorrowed).Scan(&active)
	if err != nil {
		return nil, fmt.Errorf("count active borrowings: %w", err)
	}
	if active > 0 {
		return nil, newFieldError("equipment_id",
			fmt.Sprintf("Alat masih dipinjam pada %d peminjaman aktif.", active), ErrValidation)
	}

	// equipment before borrowings here; only returned rows remain, and no
	// other transaction locks those together with the equipment row
	rows, err := tx.QueryContext(ctx, `
		DELETE FROM borrowings
		WHERE equipment_id = $1
		RETURNING request_letter_path`, id)
	if err != nil {
		return nil, fmt.Errorf("delete borrowing history: %w", err)
	}
	var letterPaths []string
	for rows.Next() {
		var letterPath sql.NullString
		if err := rows.Scan(&letterPath); err != nil {
			rows.Close()
			return nil, err
		}
		if letterPath.Valid {
			letterPaths = append(letterPaths, letterPath.String)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM equipment WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete equipment %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit equipment delete: %w", err)
	}

	return letterPaths, nil
}

// QRCode renders the PNG QR code of an existing equipment item
func (s *EquipmentService) QRCode(ctx context.Context, id int64) ([]byte, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.qr.EquipmentPNG(id)
}

func (s *EquipmentService) queryEquipment(ctx context.Context, query string, args ...interface{}) ([]models.Equipment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	defer rows.Close()

	items := []models.Equipment{}
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.ID, &e.Name, &e.Code, &e.Description, &e.Quantity, &e.AvailabilityStatus, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func equipmentWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return newFieldError("code", "Kode alat sudah digunakan.", fmt.Errorf("%w: %w", ErrValidation, err))
	}
	return fmt.Errorf("save equipment: %w", err)
}
