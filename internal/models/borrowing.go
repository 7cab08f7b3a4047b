package models

import "time"

// BorrowingStatus values
const (
	BorrowingStatusBorrowed = "dipinjam"
	BorrowingStatusReturned = "dikembalikan"
)

// Borrower is the student or staff member physically taking the equipment
type Borrower struct {
	ID        int64     `json:"id" db:"id"`
	NIM       string    `json:"nim" db:"nim"`
	Name      string    `json:"name" db:"name"`
	Contact   string    `json:"contact" db:"contact"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Borrowing represents one loan of jumlah units of an equipment item
type Borrowing struct {
	ID                int64      `json:"id" db:"id"`
	UserID            int64      `json:"user_id" db:"user_id"`
	BorrowerID        int64      `json:"borrower_id" db:"borrower_id"`
	EquipmentID       int64      `json:"equipment_id" db:"equipment_id"`
	Jumlah            int        `json:"jumlah" db:"jumlah"`
	RequestLetterPath *string    `json:"request_letter_path,omitempty" db:"request_letter_path"`
	BorrowDate        time.Time  `json:"borrow_date" db:"borrow_date"`
	ReturnDate        *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status            string     `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`

	// Populated by list queries
	Borrower  *Borrower  `json:"borrower,omitempty"`
	Equipment *Equipment `json:"equipment,omitempty"`
}

// IsReturned reports whether the borrowing reached its terminal status
func (b *Borrowing) IsReturned() bool {
	return b.Status == BorrowingStatusReturned
}

// IsValidBorrowingStatus reports whether status is a known borrowing status
func IsValidBorrowingStatus(status string) bool {
	return status == BorrowingStatusBorrowed || status == BorrowingStatusReturned
}

// BorrowingPage is one page of a borrowing listing
type BorrowingPage struct {
	Items   []Borrowing `json:"items"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Total   int         `json:"total"`
}
