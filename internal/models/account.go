package models

import (
	"time"
)

// Account is a prepaid balance identified by a login name and a physical code
// (barcode or RFID). Balance is kept in cents and never drops below zero.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Code         string    `json:"code" db:"code"`
	Balance      int64     `json:"balance" db:"balance"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AccountChanges carries the optional fields of an account modification.
// A nil pointer means the field was not supplied.
type AccountChanges struct {
	NewName     *string
	NewPassword *string
	NewCode     *string
}

// Empty reports whether no field was supplied at all.
func (c AccountChanges) Empty() bool {
	return c.NewName == nil && c.NewPassword == nil && c.NewCode == nil
}
