package domain

import (
	"errors"
	"time"
)

// ErrPhoneExists is returned by a directory when another account already holds the phone.
var ErrPhoneExists = errors.New("phone already registered")

// User is an identity-provider account keyed by canonical phone.
type User struct {
	ID               string
	Phone            string
	PhoneConfirmedAt *time.Time
	CreatedAt        time.Time
}
