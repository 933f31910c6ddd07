package repo

import "errors"

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = errors.New("record not found")
	// ErrEmailTaken is returned when an account with the same e-mail exists.
	ErrEmailTaken = errors.New("email already registered")
)
