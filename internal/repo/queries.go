package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db"
)

// Queries runs account queries against a pool or a transaction.
type Queries struct {
	db db.DBTX
}

// New wraps conn.
func New(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, violations_count, is_active, allowed_cities, date_joined`

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &u.ViolationsCount, &u.IsActive, &u.AllowedCities, &u.DateJoined)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	u.Role = auth.Role(role)
	if u.AllowedCities == nil {
		u.AllowedCities = []string{}
	}
	return u, nil
}

// GetUserByEmail looks an account up by its lower-cased e-mail.
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

// GetUserByID looks an account up by id.
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// LockUser reads a user row with FOR UPDATE; callers must be inside a transaction.
func (q *Queries) LockUser(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// CreateUser inserts an account; a duplicate e-mail yields ErrEmailTaken.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	cities := arg.AllowedCities
	if cities == nil {
		cities = []string{}
	}
	u, err := scanUser(q.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, role, allowed_cities)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userColumns,
		strings.ToLower(arg.Email), arg.PasswordHash, arg.FirstName, arg.LastName, string(arg.Role), cities))
	if db.IsUniqueViolation(err, "users_email_key") {
		return User{}, ErrEmailTaken
	}
	return u, err
}

// UpdateUserProfile changes the editable profile fields.
func (q *Queries) UpdateUserProfile(ctx context.Context, id uuid.UUID, firstName, lastName, email string) (User, error) {
	u, err := scanUser(q.db.QueryRow(ctx, `
		UPDATE users SET first_name = $2, last_name = $3, email = $4
		WHERE id = $1
		RETURNING `+userColumns, id, firstName, lastName, strings.ToLower(email)))
	if db.IsUniqueViolation(err, "users_email_key") {
		return User{}, ErrEmailTaken
	}
	return u, err
}

// UpdateUserPassword stores a new password hash.
func (q *Queries) UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := q.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the account; vehicles, sessions and fines cascade.
func (q *Queries) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOfficers returns every non-user account ordered by e-mail.
func (q *Queries) ListOfficers(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE role <> 'user' ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// RecountViolations counts the user's fines that are neither paid nor cancelled.
func (q *Queries) RecountViolations(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `
		SELECT count(*) FROM fines f
		JOIN vehicles v ON v.id = f.vehicle_id
		WHERE v.user_id = $1 AND f.status NOT IN ('paid', 'cancelled')`, id).Scan(&n)
	return n, err
}

// SetViolationState writes the recounted outstanding fines and the derived active flag.
func (q *Queries) SetViolationState(ctx context.Context, id uuid.UUID, count int) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE users SET violations_count = $2, is_active = $3 WHERE id = $1`,
		id, count, count < BlockThreshold)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertRefreshToken stores a refresh token hash.
func (q *Queries) InsertRefreshToken(ctx context.Context, arg InsertRefreshTokenParams) (RefreshToken, error) {
	var t RefreshToken
	err := q.db.QueryRow(ctx, `
		INSERT INTO refresh_tokens (id, subject, audience, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, subject, audience, token_hash, expires_at, created_at, revoked`,
		arg.ID, arg.Subject, arg.Audience, arg.TokenHash, arg.ExpiresAt, arg.CreatedAt,
	).Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	return t, err
}

// GetRefreshTokenByHash loads a refresh token by its hash.
func (q *Queries) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var t RefreshToken
	err := q.db.QueryRow(ctx, `
		SELECT id, subject, audience, token_hash, expires_at, created_at, revoked
		FROM refresh_tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return RefreshToken{}, ErrNotFound
	}
	return t, err
}

// RevokeRefreshToken marks one token revoked.
func (q *Queries) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	tag, err := q.db.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// InvalidateOtherRefreshTokens revokes every other live token of subject for audience.
func (q *Queries) InvalidateOtherRefreshTokens(ctx context.Context, subject uuid.UUID, audience, keepHash string) error {
	_, err := q.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE subject = $1 AND audience = $2 AND token_hash <> $3 AND NOT revoked`,
		subject, audience, keepHash)
	return err
}

// RevokeAllRefreshTokens revokes every live token of subject and returns them.
func (q *Queries) RevokeAllRefreshTokens(ctx context.Context, subject uuid.UUID) ([]RefreshToken, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE subject = $1 AND NOT revoked AND expires_at > $2
		RETURNING id, subject, audience, token_hash, expires_at, created_at, revoked`,
		subject, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.Subject, &t.Audience, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.Revoked); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

const passkeyColumns = `id, user_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned, created_at, updated_at`

func scanPasskey(row pgx.Row) (Passkey, error) {
	var (
		p    Passkey
		sign int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.CredentialID, &p.PublicKey, &sign, &p.Transports, &p.AAGUID, &p.Nickname, &p.Cloned, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Passkey{}, ErrNotFound
		}
		return Passkey{}, err
	}
	if sign < 0 {
		sign = 0
	}
	p.SignCount = uint32(sign)
	return p, nil
}

// ListPasskeys returns the credentials of userID, newest first.
func (q *Queries) ListPasskeys(ctx context.Context, userID uuid.UUID) ([]Passkey, error) {
	rows, err := q.db.Query(ctx, `SELECT `+passkeyColumns+` FROM webauthn_credentials WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Passkey
	for rows.Next() {
		p, err := scanPasskey(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, p)
	}
	return creds, rows.Err()
}

// GetPasskeyByCredentialID finds a credential by its authenticator id.
func (q *Queries) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (Passkey, error) {
	return scanPasskey(q.db.QueryRow(ctx, `SELECT `+passkeyColumns+` FROM webauthn_credentials WHERE credential_id = $1`, credentialID))
}

// CreatePasskey stores a new credential.
func (q *Queries) CreatePasskey(ctx context.Context, arg CreatePasskeyParams) (Passkey, error) {
	transports := arg.Transports
	if transports == nil {
		transports = []string{}
	}
	return scanPasskey(q.db.QueryRow(ctx, `
		INSERT INTO webauthn_credentials (user_id, credential_id, public_key, sign_count, transports, aaguid, nickname, cloned)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+passkeyColumns,
		arg.UserID, arg.CredentialID, arg.PublicKey, int64(arg.SignCount), transports, arg.AAGUID, arg.Nickname, arg.Cloned))
}

// UpdatePasskeyCounter records the authenticator sign counter after a login.
func (q *Queries) UpdatePasskeyCounter(ctx context.Context, id uuid.UUID, signCount uint32, cloned bool) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE webauthn_credentials SET sign_count = $2, cloned = $3, updated_at = now()
		WHERE id = $1`, id, int64(signCount), cloned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
