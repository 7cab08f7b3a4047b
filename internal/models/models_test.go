package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailabilityFor(t *testing.T) {
	assert.Equal(t, AvailabilityAvailable, AvailabilityFor(3))
	assert.Equal(t, AvailabilityBorrowed, AvailabilityFor(0))
}

func TestPrincipal_CanAccess(t *testing.T) {
	admin := Principal{UserID: 1, Role: RoleAdmin}
	user := Principal{UserID: 2, Role: RoleUser}

	assert.True(t, admin.CanAccess(2))
	assert.True(t, user.CanAccess(2))
	assert.False(t, user.CanAccess(3))
}

func TestBorrowingStatus(t *testing.T) {
	b := Borrowing{Status: BorrowingStatusBorrowed}
	assert.False(t, b.IsReturned())

	b.Status = BorrowingStatusReturned
	assert.True(t, b.IsReturned())

	assert.True(t, IsValidBorrowingStatus(BorrowingStatusReturned))
	assert.False(t, IsValidBorrowingStatus("hilang"))
}
