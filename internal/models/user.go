package models

import "time"

// User is the narrow view of the external account record this service
// consumes. Account CRUD lives in the storefront API; only lookup and
// credential material are read here.
type User struct {
	ID           string
	Email        string
	Phone        string
	PasswordHash string
	Name         string
	Status       string // "active", "suspended", "disabled"
	IsActive     bool
	TOTPSecret   string // base32 secret for step-up verification, empty if unenrolled
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
