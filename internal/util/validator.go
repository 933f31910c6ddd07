package util

import (
	"errors"
	"strings"

	"github.com/tpsparking/api/internal/validation"
)

// ValidateEmail accepts a bare addr-spec only; display names and angle brackets are rejected.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("email is required")
	}
	if err := validation.Var("email", email, "email"); err != nil {
		return errors.New("invalid email")
	}
	return nil
}

// ValidatePassword checks the minimum password policy.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters long")
	}
	return nil
}

// NormalizeEmail lower-cases and trims an address before lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePlate produces the stored form of a licence plate.
func NormalizePlate(plate string) string {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	return strings.Join(strings.Fields(plate), "")
}
