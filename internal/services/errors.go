package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)

	ErrEquipmentNotFound = fmt.Errorf("equipment %w", ErrNotFound)
	ErrBorrowingNotFound = fmt.Errorf("borrowing %w", ErrNotFound)
	ErrLetterNotFound    = fmt.Errorf("request letter %w", ErrNotFound)
)

// FieldError ties a user-facing message to the form field that caused it
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func newFieldError(field, message string, err error) error {
	return &FieldError{Field: field, Message: message, Err: err}
}

func insufficientStock(available, requested int) error {
	return newFieldError("jumlah",
		fmt.Sprintf("Stok alat tidak mencukupi (tersedia %d, diminta %d).", available, requested),
		ErrInsufficientStock)
}
