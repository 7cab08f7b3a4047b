package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smartdigilab/backend/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StockLedger is the only writer of equipment quantity and availability.
// Every method runs inside the caller's transaction so the row lock taken by
// lockEquipment is held until that transaction commits or rolls back.
type StockLedger struct {
	tracer trace.Tracer
	now    func() time.Time
}

func NewStockLedger() *StockLedger {
	return &StockLedger{
		tracer: otel.Tracer("smartdigilab/ledger"),
		now:    time.Now,
	}
}

// Reserve takes amount units out of stock
func (l *StockLedger) Reserve(ctx context.Context, tx *sql.Tx, equipmentID int64, amount int) (*models.Equipment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.reserve",
		trace.WithAttributes(
			attribute.Int64("equipment.id", equipmentID),
			attribute.Int("jumlah", amount),
		),
	)
	defer span.End()

	if amount < 1 {
		return nil, newFieldError("jumlah", "Jumlah minimal 1.", ErrValidation)
	}

	equipment, err := l.lockEquipment(ctx, tx, equipmentID)
	if err != nil {
		return nil, err
	}

	if equipment.Quantity < amount {
		span.SetAttributes(attribute.Bool("stock.insufficient", true))
		return nil, insufficientStock(equipment.Quantity, amount)
	}

	if err := l.updateQuantity(ctx, tx, equipment, equipment.Quantity-amount); err != nil {
		return nil, err
	}

	return equipment, nil
}

// Release puts amount units back into stock
func (l *StockLedger) Release(ctx context.Context, tx *sql.Tx, equipmentID int64, amount int) (*models.Equipment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.release",
		trace.WithAttributes(
			attribute.Int64("equipment.id", equipmentID),
			attribute.Int("jumlah", amount),
		),
	)
	defer span.End()

	if amount < 1 {
		return nil, newFieldError("jumlah", "Jumlah minimal 1.", ErrValidation)
	}

	equipment, err := l.lockEquipment(ctx, tx, equipmentID)
	if err != nil {
		return nil, err
	}

	if err := l.updateQuantity(ctx, tx, equipment, equipment.Quantity+amount); err != nil {
		return nil, err
	}

	return equipment, nil
}

// Lock locks the equipment row without changing it
func (l *StockLedger) Lock(ctx context.Context, tx *sql.Tx, equipmentID int64) (*models.Equipment, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.lock",
		trace.WithAttributes(attribute.Int64("equipment.id", equipmentID)),
	)
	defer span.End()

	return l.lockEquipment(ctx, tx, equipmentID)
}

func (l *StockLedger) lockEquipment(ctx context.Context, tx *sql.Tx, equipmentID int64) (*models.Equipment, error) {
	var equipment models.Equipment
	err := tx.QueryRowContext(ctx, `
		SELECT id, name, code, quantity, availability_status
		FROM equipment
		WHERE id = $1
		FOR UPDATE`, equipmentID).Scan(
		&equipment.ID, &equipment.Name, &equipment.Code,
		&equipment.Quantity, &equipment.AvailabilityStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEquipmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock equipment %d: %w", equipmentID, err)
	}

	return &equipment, nil
}

func (l *StockLedger) updateQuantity(ctx context.Context, tx *sql.Tx, equipment *models.Equipment, quantity int) error {
	status := models.AvailabilityFor(quantity)
	now := l.now()

	result, err := tx.ExecContext(ctx, `
		UPDATE equipment
		SET quantity = $1, availability_status = $2, updated_at = $3
		WHERE id = $4`,
		quantity, status, now, equipment.ID)
	if err != nil {
		return fmt.Errorf("update equipment %d quantity: %w", equipment.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrEquipmentNotFound
	}

	equipment.Quantity = quantity
	equipment.AvailabilityStatus = status
	equipment.UpdatedAt = now
	return nil
}
