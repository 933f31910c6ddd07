package repo

import (
	"time"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
)

// BlockThreshold is the outstanding-fine count at which a user account is blocked.
const BlockThreshold = 3

// User is an account of any role.
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    string
	FirstName       string
	LastName        string
	Role            auth.Role
	ViolationsCount int
	IsActive        bool
	AllowedCities   []string
	DateJoined      time.Time
}

// Blocked reports whether a user-role account is locked out by outstanding fines.
func (u User) Blocked() bool {
	return u.Role == auth.RoleUser && u.ViolationsCount >= BlockThreshold
}

// RefreshToken models the refresh_tokens table.
type RefreshToken struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// InsertRefreshTokenParams holds the columns written on login or rotation.
type InsertRefreshTokenParams struct {
	ID        uuid.UUID
	Subject   uuid.UUID
	Audience  string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateUserParams holds the columns written on registration or by parkctl.
type CreateUserParams struct {
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	Role          auth.Role
	AllowedCities []string
}

// Passkey is a stored WebAuthn credential.
type Passkey struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       []byte
	Nickname     *string
	Cloned       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreatePasskeyParams holds a credential produced by a registration ceremony.
type CreatePasskeyParams struct {
	UserID       uuid.UUID
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	AAGUID       []byte
	Nickname     *string
	Cloned       bool
}
