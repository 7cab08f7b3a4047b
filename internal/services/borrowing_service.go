package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/smartdigilab/backend/internal/models"
	"github.com/smartdigilab/backend/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BorrowingsPerPage is the page size of every borrowing listing
const BorrowingsPerPage = 15

const dateLayout = "2006-01-02"

// CreateBorrowingInput is the borrow request form. Letter is optional.
type CreateBorrowingInput struct {
	BorrowerName    string `json:"borrower_name" validate:"required,max=255"`
	BorrowerNIM     string `json:"borrower_nim" validate:"required,max=255"`
	BorrowerContact string `json:"borrower_contact" validate:"required,max=255"`
	EquipmentID     int64  `json:"equipment_id" validate:"gt=0"`
	Jumlah          int    `json:"jumlah" validate:"min=1"`
	BorrowDate      string `json:"borrow_date" validate:"required,datetime=2006-01-02"`

	Letter         io.Reader `json:"-" validate:"-"`
	LetterFilename string    `json:"-" validate:"-"`
}

// UpdateBorrowingInput is the admin edit form
type UpdateBorrowingInput struct {
	Status     string  `json:"status" validate:"required,oneof=dipinjam dikembalikan"`
	ReturnDate *string `json:"return_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type BorrowingService struct {
	db        *sql.DB
	ledger    *StockLedger
	letters   storage.LetterStore
	orphans   OrphanQueue
	validator *ValidationHelper
	audit     *AuditLogger
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewBorrowingService(db *sql.DB, ledger *StockLedger, letters storage.LetterStore, orphans OrphanQueue, logger *zap.Logger) *BorrowingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if orphans == nil {
		orphans = NewRedisOrphanQueue(nil)
	}
	return &BorrowingService{
		db:        db,
		ledger:    ledger,
		letters:   letters,
		orphans:   orphans,
		validator: NewValidationHelper(),
		audit:     NewAuditLogger(logger),
		logger:    logger.Named("borrowing"),
		tracer:    otel.Tracer("smartdigilab/borrowing"),
		now:       time.Now,
	}
}

// CreateBorrowing records a new loan and takes its units out of stock.
// The letter is written before the transaction starts so a committed
// borrowing always has its file; if the transaction then fails the stored
// file is handed to the orphan queue.
func (s *BorrowingService) CreateBorrowing(ctx context.Context, principal models.Principal, input CreateBorrowingInput) (*models.Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "borrowing.create",
		trace.WithAttributes(
			attribute.Int64("equipment.id", input.EquipmentID),
			attribute.Int("jumlah", input.Jumlah),
			attribute.Int64("user.id", principal.UserID),
		),
	)
	defer span.End()

	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	borrowDate, err := time.Parse(dateLayout, input.BorrowDate)
	if err != nil {
		return nil, newFieldError("borrow_date", "Tanggal pinjam tidak valid.", ErrValidation)
	}

	if err := s.ensureEquipmentExists(ctx, input.EquipmentID); err != nil {
		span.RecordError(err)
		s.audit.LogError("create", 0, err)
		return nil, err
	}

	var letterPath *string
	if input.Letter != nil {
		stored, err := s.letters.Store(ctx, input.Letter, input.LetterFilename)
		if err != nil {
			err = letterStoreError(err)
			s.audit.LogError("create", 0, err)
			return nil, err
		}
		letterPath = &stored
	}

	borrowing, err := s.createBorrowing(ctx, principal, input, borrowDate, letterPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.audit.LogError("create", 0, err)
		if letterPath != nil {
			s.queueOrphan(ctx, *letterPath)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int64("borrowing.id", borrowing.ID))
	s.audit.LogBorrowing(AuditEvent{
		EventType:   AuditBorrowCreated,
		BorrowingID: borrowing.ID,
		EquipmentID: borrowing.EquipmentID,
		UserID:      principal.UserID,
		Jumlah:      borrowing.Jumlah,
		Status:      borrowing.Status,
	})

	return borrowing, nil
}

func (s *BorrowingService) createBorrowing(ctx context.Context, principal models.Principal, input CreateBorrowingInput, borrowDate time.Time, letterPath *string) (*models.Borrowing, error) {
	borrower, err := s.resolveBorrower(ctx, input)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	equipment, err := s.ledger.Reserve(ctx, tx, input.EquipmentID, input.Jumlah)
	if errors.Is(err, ErrEquipmentNotFound) {
		return nil, equipmentNotFoundField(err)
	}
	if err != nil {
		return nil, err
	}

	borrowing := &models.Borrowing{
		UserID:            principal.UserID,
		BorrowerID:        borrower.ID,
		EquipmentID:       equipment.ID,
		Jumlah:            input.Jumlah,
		RequestLetterPath: letterPath,
		BorrowDate:        borrowDate,
		Status:            models.BorrowingStatusBorrowed,
		CreatedAt:         s.now(),
		Borrower:          borrower,
		Equipment:         equipment,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO borrowings (user_id, borrower_id, equipment_id, jumlah, request_letter_path, borrow_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		borrowing.UserID, borrowing.BorrowerID, borrowing.EquipmentID, borrowing.Jumlah,
		nullString(letterPath), borrowing.BorrowDate, borrowing.Status, borrowing.CreatedAt,
	).Scan(&borrowing.ID)
	if err != nil {
		return nil, fmt.Errorf("insert borrowing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit borrowing: %w", err)
	}

	return borrowing, nil
}

// ensureEquipmentExists rejects an unknown equipment_id before the borrower
// row or the letter file is written. Reserve still maps a missing row for
// equipment deleted in between.
func (s *BorrowingService) ensureEquipmentExists(ctx context.Context, equipmentID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM equipment WHERE id = $1`, equipmentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return equipmentNotFoundField(ErrEquipmentNotFound)
	}
	if err != nil {
		return fmt.Errorf("check equipment: %w", err)
	}
	return nil
}

func equipmentNotFoundField(err error) error {
	return newFieldError("equipment_id", "Alat tidak ditemukan.", fmt.Errorf("%w: %w", ErrValidation, err))
}

// resolveBorrower finds the borrower by nim or creates one. An existing
// borrower keeps its stored name and contact.
func (s *BorrowingService) resolveBorrower(ctx context.Context, input CreateBorrowingInput) (*models.Borrower, error) {
	borrower, err := s.findBorrowerByNIM(ctx, input.BorrowerNIM)
	if err == nil {
		return borrower, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find borrower: %w", err)
	}

	borrower = &models.Borrower{
		NIM:       input.BorrowerNIM,
		Name:      input.BorrowerName,
		Contact:   input.BorrowerContact,
		CreatedAt: s.now(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO borrowers (nim, name, contact, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		borrower.NIM, borrower.Name, borrower.Contact, borrower.CreatedAt,
	).Scan(&borrower.ID)
	if err == nil {
		return borrower, nil
	}

	// A concurrent request created the same nim first
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		borrower, err = s.findBorrowerByNIM(ctx, input.BorrowerNIM)
		if err != nil {
			return nil, fmt.Errorf("find borrower after conflict: %w", err)
		}
		return borrower, nil
	}

	return nil, fmt.Errorf("insert borrower: %w", err)
}

func (s *BorrowingService) findBorrowerByNIM(ctx context.Context, nim string) (*models.Borrower, error) {
	var borrower models.Borrower
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nim, name, contact, created_at
		FROM borrowers
		WHERE nim = $1`, nim).Scan(
		&borrower.ID, &borrower.NIM, &borrower.Name, &borrower.Contact, &borrower.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &borrower, nil
}

// UpdateStatus applies an admin status edit. Stock is released only on the
// dipinjam to dikembalikan transition, decided from the locked row.
func (s *BorrowingService) UpdateStatus(ctx context.Context, principal models.Principal, id int64, input UpdateBorrowingInput) (*models.Borrowing, error) {
	ctx, span := s.tracer.Start(ctx, "borrowing.update_status",
		trace.WithAttributes(
			attribute.Int64("borrowing.id", id),
			attribute.String("status.new", input.Status),
		),
	)
	defer span.End()

	if !principal.IsAdmin() {
		return nil, ErrUnauthorized
	}

	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	var returnDate *time.Time
	if input.ReturnDate != nil {
		parsed, err := time.Parse(dateLayout, *input.ReturnDate)
		if err != nil {
			return nil, newFieldError("return_date", "Tanggal kembali tidak valid.", ErrValidation)
		}
		returnDate = &parsed
	}
	if input.Status == models.BorrowingStatusBorrowed && returnDate != nil {
		return nil, newFieldError("return_date", "Tanggal kembali hanya untuk status dikembalikan.", ErrValidation)
	}

	borrowing, released, err := s.applyStatus(ctx, id, input.Status, returnDate)
	if err != nil {
		span.RecordError(err)
		s.audit.LogError("update_status", id, err)
		return nil, err
	}

	eventType := AuditBorrowUpdated
	if released {
		eventType = AuditBorrowReturned
	}
	span.SetAttributes(attribute.Bool("stock.released", released))
	s.audit.LogBorrowing(AuditEvent{
		EventType:   eventType,
		BorrowingID: borrowing.ID,
		EquipmentID: borrowing.EquipmentID,
		UserID:      principal.UserID,
		Jumlah:      borrowing.Jumlah,
		Status:      borrowing.Status,
	})

	return borrowing, nil
}

// ReturnEquipment marks a borrowing returned today; already returned
// borrowings are left as they are.
func (s *BorrowingService) ReturnEquipment(ctx context.Context, principal models.Principal, id int64) (*models.Borrowing, error) {
	return s.UpdateStatus(ctx, principal, id, UpdateBorrowingInput{Status: models.BorrowingStatusReturned})
}

func (s *BorrowingService) applyStatus(ctx context.Context, id int64, status string, returnDate *time.Time) (*models.Borrowing, bool, error) {
	if !models.IsValidBorrowingStatus(status) {
		return nil, false, newFieldError("status", "Status tidak valid.", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	borrowing, err := s.lockBorrowing(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}

	released := false
	switch {
	case borrowing.Status == models.BorrowingStatusBorrowed && status == models.BorrowingStatusReturned:
		if returnDate == nil {
			now := s.now()
			returnDate = &now
		}
		if err := s.setStatus(ctx, tx, borrowing.ID, status, returnDate); err != nil {
			return nil, false, err
		}
		// borrowing row is already locked, equipment comes second
		if _, err := s.ledger.Release(ctx, tx, borrowing.EquipmentID, borrowing.Jumlah); err != nil {
			return nil, false, err
		}
		borrowing.Status = status
		borrowing.ReturnDate = returnDate
		released = true

	case borrowing.IsReturned() && status == models.BorrowingStatusReturned:
		if returnDate == nil {
			return borrowing, false, nil
		}
		if err := s.setStatus(ctx, tx, borrowing.ID, status, returnDate); err != nil {
			return nil, false, err
		}
		borrowing.ReturnDate = returnDate

	case borrowing.IsReturned() && status == models.BorrowingStatusBorrowed:
		return nil, false, newFieldError("status", "Peminjaman yang sudah dikembalikan tidak dapat dipinjam ulang.", ErrInvalidTransition)

	default:
		// dipinjam to dipinjam
		return borrowing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit status update: %w", err)
	}

	return borrowing, released, nil
}

func (s *BorrowingService) setStatus(ctx context.Context, tx *sql.Tx, id int64, status string, returnDate *time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE borrowings
		SET status = $1, return_date = $2
		WHERE id = $3`,
		status, *returnDate, id)
	if err != nil {
		return fmt.Errorf("update borrowing %d: %w", id, err)
	}
	return nil
}

// DeleteBorrowing removes a borrowing, giving back its stock if it was still
// on loan. The letter file is removed only after the delete commits.
func (s *BorrowingService) DeleteBorrowing(ctx context.Context, principal models.Principal, id int64) error {
	ctx, span := s.tracer.Start(ctx, "borrowing.delete",
		trace.WithAttributes(attribute.Int64("borrowing.id", id)),
	)
	defer span.End()

	if !principal.IsAdmin() {
		return ErrUnauthorized
	}

	borrowing, err := s.deleteBorrowing(ctx, id)
	if err != nil {
		span.RecordError(err)
		s.audit.LogError("delete", id, err)
		return err
	}

	s.audit.LogBorrowing(AuditEvent{
		EventType:   AuditBorrowDeleted,
		BorrowingID: borrowing.ID,
		EquipmentID: borrowing.EquipmentID,
		UserID:      principal.UserID,
		Jumlah:      borrowing.Jumlah,
		Status:      borrowing.Status,
	})

	if borrowing.RequestLetterPath != nil {
		if err := s.letters.Delete(ctx, *borrowing.RequestLetterPath); err != nil {
			s.logger.Warn("failed to delete request letter",
				zap.Int64("borrowing_id", id),
				zap.String("path", *borrowing.RequestLetterPath),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *BorrowingService) deleteBorrowing(ctx context.Context, id int64) (*models.Borrowing, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	borrowing, err := s.lockBorrowing(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if borrowing.Status == models.BorrowingStatusBorrowed {
		if _, err := s.ledger.Release(ctx, tx, borrowing.EquipmentID, borrowing.Jumlah); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM borrowings WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete borrowing %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete: %w", err)
	}

	return borrowing, nil
}

// GetBorrowing returns one borrowing with its borrower and equipment
func (s *BorrowingService) GetBorrowing(ctx context.Context, principal models.Principal, id int64) (*models.Borrowing, error) {
	query := borrowingSelect + ` WHERE b.id = $1`

	borrowing, err := scanBorrowing(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBorrowingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get borrowing %d: %w", id, err)
	}

	if !principal.CanAccess(borrowing.UserID) {
		return nil, ErrUnauthorized
	}

	return borrowing, nil
}

// OpenLetter returns the stored request letter of a borrowing
func (s *BorrowingService) OpenLetter(ctx context.Context, principal models.Principal, id int64) (io.ReadCloser, string, error) {
	borrowing, err := s.GetBorrowing(ctx, principal, id)
	if err != nil {
		return nil, "", err
	}

	if borrowing.RequestLetterPath == nil {
		return nil, "", ErrLetterNotFound
	}

	exists, err := s.letters.Exists(ctx, *borrowing.RequestLetterPath)
	if err != nil {
		return nil, "", fmt.Errorf("check letter: %w", err)
	}
	if !exists {
		return nil, "", ErrLetterNotFound
	}

	rc, contentType, err := s.letters.Open(ctx, *borrowing.RequestLetterPath)
	if errors.Is(err, storage.ErrLetterMissing) {
		return nil, "", ErrLetterNotFound
	}
	if err != nil {
		return nil, "", err
	}

	return rc, contentType, nil
}

// ListForUser lists the caller's own borrowings, newest first
func (s *BorrowingService) ListForUser(ctx context.Context, principal models.Principal, page int) (*models.BorrowingPage, error) {
	return s.listBorrowings(ctx, &principal.UserID, page)
}

// ListAll lists every borrowing for admins and only the caller's own
// borrowings for everyone else.
func (s *BorrowingService) ListAll(ctx context.Context, principal models.Principal, page int) (*models.BorrowingPage, error) {
	if principal.IsAdmin() {
		return s.listBorrowings(ctx, nil, page)
	}
	return s.listBorrowings(ctx, &principal.UserID, page)
}

const borrowingSelect = `
	SELECT b.id, b.user_id, b.borrower_id, b.equipment_id, b.jumlah, b.request_letter_path,
	       b.borrow_date, b.return_date, b.status, b.created_at,
	       br.nim, br.name, br.contact,
	       e.name, e.code, e.quantity, e.availability_status
	FROM borrowings b
	JOIN borrowers br ON br.id = b.borrower_id
	JOIN equipment e ON e.id = b.equipment_id`

func (s *BorrowingService) listBorrowings(ctx context.Context, userID *int64, page int) (*models.BorrowingPage, error) {
	if page < 1 {
		page = 1
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if userID != nil {
		conditions = append(conditions, fmt.Sprintf("b.user_id = $%d", argIndex))
		args = append(args, *userID)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrowings b`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count borrowings: %w", err)
	}

	query := borrowingSelect + where
	query += " ORDER BY b.created_at DESC, b.id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, BorrowingsPerPage, (page-1)*BorrowingsPerPage)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list borrowings: %w", err)
	}
	defer rows.Close()

	items := []models.Borrowing{}
	for rows.Next() {
		borrowing, err := scanBorrowing(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *borrowing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.BorrowingPage{
		Items:   items,
		Page:    page,
		PerPage: BorrowingsPerPage,
		Total:   total,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBorrowing(row rowScanner) (*models.Borrowing, error) {
	var (
		b          models.Borrowing
		borrower   models.Borrower
		equipment  models.Equipment
		letterPath sql.NullString
		returnDate sql.NullTime
	)

	err := row.Scan(
		&b.ID, &b.UserID, &b.BorrowerID, &b.EquipmentID, &b.Jumlah, &letterPath,
		&b.BorrowDate, &returnDate, &b.Status, &b.CreatedAt,
		&borrower.NIM, &borrower.Name, &borrower.Contact,
		&equipment.Name, &equipment.Code, &equipment.Quantity, &equipment.AvailabilityStatus,
	)
	if err != nil {
		return nil, err
	}

	if letterPath.Valid {
		b.RequestLetterPath = &letterPath.String
	}
	if returnDate.Valid {
		b.ReturnDate = &returnDate.Time
	}
	borrower.ID = b.BorrowerID
	equipment.ID = b.EquipmentID
	b.Borrower = &borrower
	b.Equipment = &equipment

	return &b, nil
}

func (s *BorrowingService) lockBorrowing(ctx context.Context, tx *sql.Tx, id int64) (*models.Borrowing, error) {
	var (
		b          models.Borrowing
		letterPath sql.NullString
		returnDate sql.NullTime
	)

	err := tx.QueryRowContext(ctx, `
		SELECT id, user_id, borrower_id, equipment_id, jumlah, request_letter_path,
		       borrow_date, return_date, status, created_at
		FROM borrowings
		WHERE id = $1
		FOR UPDATE`, id).Scan(
		&b.ID, &b.UserID, &b.BorrowerID, &b.EquipmentID, &b.Jumlah, &letterPath,
		&b.BorrowDate, &returnDate, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBorrowingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock borrowing %d: %w", id, err)
	}

	if letterPath.Valid {
		b.RequestLetterPath = &letterPath.String
	}
	if returnDate.Valid {
		b.ReturnDate = &returnDate.Time
	}

	return &b, nil
}

func (s *BorrowingService) queueOrphan(ctx context.Context, letterPath string) {
	// the request may already be cancelled; the push must still happen
	if err := s.orphans.Push(context.WithoutCancel(ctx), letterPath); err != nil {
		s.logger.Error("failed to queue orphaned letter",
			zap.String("path", letterPath),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("queued orphaned letter", zap.String("path", letterPath))
}

func letterStoreError(err error) error {
	switch {
	case errors.Is(err, storage.ErrLetterTooLarge):
		return newFieldError("request_letter", "Ukuran surat maksimal 2 MB.", fmt.Errorf("%w: %w", ErrValidation, err))
	case errors.Is(err, storage.ErrUnsupportedLetterType):
		return newFieldError("request_letter", "Surat harus berupa PDF, JPG, JPEG atau PNG.", fmt.Errorf("%w: %w", ErrValidation, err))
	default:
		return fmt.Errorf("store request letter: %w", err)
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
