package services

import (
	"go.uber.org/zap"
)

// Audit event types
const (
	AuditBorrowCreated  = "BORROW_CREATED"
	AuditBorrowReturned = "BORROW_RETURNED"
	AuditBorrowUpdated  = "BORROW_UPDATED"
	AuditBorrowDeleted  = "BORROW_DELETED"
	AuditError          = "ERROR"
)

type AuditEvent struct {
	EventType   string
	BorrowingID int64
	EquipmentID int64
	UserID      int64
	Jumlah      int
	Status      string
}

// AuditLogger writes one structured "audit" entry per stock-affecting event
type AuditLogger struct {
	logger *zap.Logger
}

func NewAuditLogger(logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{logger: logger.Named("audit")}
}

func (a *AuditLogger) LogBorrowing(event AuditEvent) {
	a.logger.Info("audit",
		zap.String("event_type", event.EventType),
		zap.Int64("borrowing_id", event.BorrowingID),
		zap.Int64("equipment_id", event.EquipmentID),
		zap.Int64("user_id", event.UserID),
		zap.Int("jumlah", event.Jumlah),
		zap.String("status", event.Status),
	)
}

func (a *AuditLogger) LogError(operation string, borrowingID int64, err error) {
	a.logger.Warn("audit",
		zap.String("event_type", AuditError),
		zap.String("operation", operation),
		zap.Int64("borrowing_id", borrowingID),
		zap.Error(err),
	)
}
