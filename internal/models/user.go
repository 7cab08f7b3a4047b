package models

import "time"

// Roles
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type User struct {
	ID           int64     `json:"id" example:"1"`                          // User ID
	Name         string    `json:"name" example:"Admin SmartDigiLab"`       // Display name
	Email        string    `json:"email" example:"admin@smartdigilab.test"` // Login email
	Role         string    `json:"role" example:"admin"`                    // admin or user
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated caller of a request
type Principal struct {
	UserID int64
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess reports whether the principal may see a record owned by ownerID
func (p Principal) CanAccess(ownerID int64) bool {
	return p.IsAdmin() || p.UserID == ownerID
}
