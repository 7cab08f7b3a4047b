package models

import "time"

// Availability statuses derived from quantity
const (
	AvailabilityAvailable = "tersedia"
	AvailabilityBorrowed  = "dipinjam"
)

// Equipment represents a laboratory equipment item
type Equipment struct {
	ID                 int64     `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	Code               string    `json:"code" db:"code"`
	Description        string    `json:"description" db:"description"`
	Quantity           int       `json:"quantity" db:"quantity"` // units currently not on loan
	AvailabilityStatus string    `json:"availability_status" db:"availability_status"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// AvailabilityFor returns the availability status matching quantity
func AvailabilityFor(quantity int) string {
	if quantity > 0 {
		return AvailabilityAvailable
	}
	return AvailabilityBorrowed
}
