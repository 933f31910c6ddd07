package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/mail"
	"github.com/tpsparking/api/internal/metrics"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/util"
)

var (
	// ErrInvalidCredentials covers unknown e-mail, wrong password, wrong role and inactive accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountBlocked is returned when a user has too many outstanding fines.
	ErrAccountBlocked = errors.New("account blocked due to excessive violations")
	// ErrRefreshInvalid indicates an unknown, revoked or expired refresh token.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRegistrationFailed hides why a registration was refused.
	ErrRegistrationFailed = errors.New("registration failed")
	// ErrWrongPassword is returned when the current password does not match.
	ErrWrongPassword = errors.New("wrong password")
	// ErrResetFailed covers invalid or consumed reset tokens.
	ErrResetFailed = errors.New("password reset failed")
	// ErrInvalidInput wraps field-level input problems.
	ErrInvalidInput = errors.New("invalid input")
)

// ResetRequestedMessage is answered to every password reset request.
const ResetRequestedMessage = "If the email exists, a reset code has been sent."

// Entry is a login entry point. It doubles as the refresh token audience.
type Entry string

const (
	EntryGeneric    Entry = "generic"
	EntryUser       Entry = "user"
	EntryController Entry = "controller"
	EntryManager    Entry = "manager"
)

// ParseEntry maps an audience string back to an Entry.
func ParseEntry(value string) (Entry, bool) {
	switch e := Entry(value); e {
	case EntryGeneric, EntryUser, EntryController, EntryManager:
		return e, true
	}
	return "", false
}

// Allows reports whether role may authenticate through e.
func (e Entry) Allows(role auth.Role) bool {
	switch e {
	case EntryGeneric:
		return role.Valid()
	case EntryUser:
		return role == auth.RoleUser
	case EntryController:
		return auth.Authorize(role, auth.RoleController)
	case EntryManager:
		return auth.Authorize(role, auth.RoleManager)
	}
	return false
}

type authRepository interface {
	GetUserByEmail(ctx context.Context, email string) (repo.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (repo.User, error)
	CreateUser(ctx context.Context, arg repo.CreateUserParams) (repo.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, firstName, lastName, email string) (repo.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (repo.RefreshToken, error)
	InsertRefreshToken(ctx context.Context, arg repo.InsertRefreshTokenParams) (repo.RefreshToken, error)
	InvalidateOtherRefreshTokens(ctx context.Context, subject uuid.UUID, audience, keepHash string) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, subject uuid.UUID) ([]repo.RefreshToken, error)
	ListPasskeys(ctx context.Context, userID uuid.UUID) ([]repo.Passkey, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (repo.Passkey, error)
	CreatePasskey(ctx context.Context, arg repo.CreatePasskeyParams) (repo.Passkey, error)
	UpdatePasskeyCounter(ctx context.Context, id uuid.UUID, signCount uint32, cloned bool) error
}

type redisCommander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthService holds authentication and account rules.
type AuthService struct {
	repo       authRepository
	redis      redisCommander
	jwt        *auth.JWTManager
	mailer     mail.Sender
	refreshTTL time.Duration
	resetTTL   time.Duration
}

// Options tunes token lifetimes.
type Options struct {
	RefreshTTL time.Duration
	ResetTTL   time.Duration
}

// NewAuthService wires the service.
func NewAuthService(r *repo.Queries, redisClient *redis.Client, jwtMgr *auth.JWTManager, mailer mail.Sender, opts Options) *AuthService {
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 30 * time.Minute
	}
	return &AuthService{
		repo:       r,
		redis:      redisClient,
		jwt:        jwtMgr,
		mailer:     mailer,
		refreshTTL: opts.RefreshTTL,
		resetTTL:   opts.ResetTTL,
	}
}

// JWT exposes the token manager to the auth middleware.
func (s *AuthService) JWT() *auth.JWTManager {
	return s.jwt
}

// Profile is the public view of an account.
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Role            auth.Role `json:"role"`
	ViolationsCount int       `json:"violations_count"`
	IsActive        bool      `json:"is_active"`
	AllowedCities   []string  `json:"allowed_cities"`
	DateJoined      time.Time `json:"date_joined"`
}

// NewProfile projects a repo.User.
func NewProfile(u repo.User) Profile {
	cities := u.AllowedCities
	if cities == nil {
		cities = []string{}
	}
	return Profile{
		ID:              u.ID.String(),
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Role:            u.Role,
		ViolationsCount: u.ViolationsCount,
		IsActive:        u.IsActive,
		AllowedCities:   cities,
		DateJoined:      u.DateJoined,
	}
}

// LoginResult is returned by every token-issuing operation.
type LoginResult struct {
	Audience      string
	AccessToken   string
	RefreshToken  string
	Subject       uuid.UUID
	Role          auth.Role
	AllowedCities []string
	Profile       Profile
	RefreshExpiry time.Time
}

// Login authenticates email/password through entry.
func (s *AuthService) Login(ctx context.Context, entry Entry, email, password string) (*LoginResult, error) {
	logger := log.With().Str("component", "auth").Str("entry", string(entry)).Logger()

	user, err := s.repo.GetUserByEmail(ctx, util.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			logger.Warn().Msg("login: unknown email")
			metrics.LoginAttemptsTotal.WithLabelValues(string(entry), "invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := auth.Verify(password, user.PasswordHash)
	if err != nil {
		logger.Warn().Err(err).Msg("login: verify password failed")
		metrics.LoginAttemptsTotal.WithLabelValues(string(entry), "invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !ok {
		logger.Warn().Str("user_id", user.ID.String()).Msg("login: wrong password")
		metrics.LoginAttemptsTotal.WithLabelValues(string(entry), "invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	return s.LoginWithUser(ctx, entry, user)
}

// LoginWithUser issues tokens for an already authenticated user after the entry and block checks.
func (s *AuthService) LoginWithUser(ctx context.Context, entry Entry, user repo.User) (*LoginResult, error) {
	if err := s.checkEligible(entry, user); err != nil {
		outcome := "invalid"
		if errors.Is(err, ErrAccountBlocked) {
			outcome = "blocked"
		}
		metrics.LoginAttemptsTotal.WithLabelValues(string(entry), outcome).Inc()
		return nil, err
	}

	result, err := s.issue(ctx, entry, user)
	if err != nil {
		return nil, err
	}
	metrics.LoginAttemptsTotal.WithLabelValues(string(entry), "ok").Inc()
	return result, nil
}

func (s *AuthService) checkEligible(entry Entry, user repo.User) error {
	logger := log.With().Str("component", "auth").Str("entry", string(entry)).Str("user_id", user.ID.String()).Logger()

	if !entry.Allows(user.Role) {
		logger.Warn().Str("role", string(user.Role)).Msg("login: role not allowed for entry point")
		return ErrInvalidCredentials
	}
	if user.Blocked() {
		logger.Warn().Int("violations", user.ViolationsCount).Msg("login: account blocked")
		return ErrAccountBlocked
	}
	if !user.IsActive {
		logger.Warn().Msg("login: account inactive")
		return ErrInvalidCredentials
	}
	return nil
}

func (s *AuthService) issue(ctx context.Context, entry Entry, user repo.User) (*LoginResult, error) {
	cities := user.AllowedCities
	if cities == nil {
		cities = []string{}
	}

	token, _, err := s.jwt.GenerateAccessToken(user.ID.String(), string(entry), user.Role, cities)
	if err != nil {
		return nil, err
	}

	rawRefresh, refreshHash, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	expires := util.Now().Add(s.refreshTTL)
	if err := s.persistRefresh(ctx, user.ID, string(entry), refreshHash, expires); err != nil {
		return nil, err
	}

	return &LoginResult{
		Audience:      string(entry),
		AccessToken:   token,
		RefreshToken:  rawRefresh,
		Subject:       user.ID,
		Role:          user.Role,
		AllowedCities: cities,
		Profile:       NewProfile(user),
		RefreshExpiry: expires,
	}, nil
}

// Refresh rotates a refresh token, re-reading the account so role and block rules apply again.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*LoginResult, error) {
	if rawToken == "" {
		return nil, ErrRefreshInvalid
	}

	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	entry, ok := ParseEntry(record.Audience)
	if !ok || record.Revoked || util.Now().After(record.ExpiresAt) {
		return nil, ErrRefreshInvalid
	}

	redisKey := auth.RefreshRedisKey(record.Audience, hash)
	status, err := s.redis.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if status != "active" {
		return nil, ErrRefreshInvalid
	}

	user, err := s.repo.GetUserByID(ctx, record.Subject)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}

	if err := s.checkEligible(entry, user); err != nil {
		if errors.Is(err, ErrAccountBlocked) {
			return nil, err
		}
		return nil, ErrRefreshInvalid
	}

	result, err := s.issue(ctx, entry, user)
	if err != nil {
		return nil, err
	}

	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if err := s.redis.Del(ctx, redisKey).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	return result, nil
}

// Logout revokes the given refresh token.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}
	hash := auth.HashRefreshToken(rawToken)
	record, err := s.repo.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.repo.RevokeRefreshToken(ctx, hash); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if err := s.redis.Del(ctx, auth.RefreshRedisKey(record.Audience, hash)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// RegisterInput is the self-service sign-up payload.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates a user-role account and logs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	if util.ValidateEmail(in.Email) != nil || util.ValidatePassword(in.Password) != nil {
		return nil, ErrRegistrationFailed
	}

	hash, err := auth.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, repo.CreateUserParams{
		Email:        util.NormalizeEmail(in.Email),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         auth.RoleUser,
	})
	if err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			log.Warn().Str("component", "auth").Msg("register: email already taken")
			return nil, ErrRegistrationFailed
		}
		return nil, err
	}

	return s.issue(ctx, EntryUser, user)
}

// GetProfile loads the caller's account.
func (s *AuthService) GetProfile(ctx context.Context, id uuid.UUID) (repo.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ProfileUpdate lists the editable fields; nil leaves a field untouched.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// UpdateProfile applies a partial profile update.
func (s *AuthService) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (repo.User, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return repo.User{}, err
	}

	first, last, email := user.FirstName, user.LastName, user.Email
	if in.FirstName != nil {
		first = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		last = strings.TrimSpace(*in.LastName)
	}
	if in.Email != nil {
		if err := util.ValidateEmail(*in.Email); err != nil {
			return repo.User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		email = util.NormalizeEmail(*in.Email)
	}

	updated, err := s.repo.UpdateUserProfile(ctx, id, first, last, email)
	if errors.Is(err, repo.ErrEmailTaken) {
		return repo.User{}, fmt.Errorf("%w: email already in use", ErrInvalidInput)
	}
	return updated, err
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error {
	if err := util.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	ok, err := auth.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrWrongPassword
	}

	hash, err := auth.Hash(newPassword)
	if err != nil {
		return err
	}
	return s.repo.UpdateUserPassword(ctx, id, hash)
}

// DeleteAccount removes the caller and everything it owns, and drops its refresh tokens.
func (s *AuthService) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := s.revokeAll(ctx, id); err != nil {
		return err
	}
	return s.repo.DeleteUser(ctx, id)
}

// RequestPasswordReset mails a single-use token when the address is known. The caller always
// answers ResetRequestedMessage; only infrastructure errors are returned.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetUserByEmail(ctx, util.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return err
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, auth.PasswordResetRedisKey(hash), user.ID.String(), s.resetTTL).Err(); err != nil {
		return err
	}

	mail.SendAsync(s.mailer, mail.Message{
		To:      user.Email,
		Subject: "Password Reset Token",
		Body:    fmt.Sprintf("Your password reset token is: %s\n\nCopy this token into the app to reset your password.\nIt expires in %s.", raw, s.resetTTL),
	})
	return nil
}

// ConfirmPasswordReset consumes token and sets newPassword, revoking outstanding refresh tokens.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if strings.TrimSpace(token) == "" || util.ValidatePassword(newPassword) != nil {
		return ErrResetFailed
	}

	val, err := s.redis.GetDel(ctx, auth.PasswordResetRedisKey(auth.HashRefreshToken(strings.TrimSpace(token)))).Result()
	if err == redis.Nil {
		return ErrResetFailed
	}
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return ErrResetFailed
	}

	hash, err := auth.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, userID, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrResetFailed
		}
		return err
	}
	return s.revokeAll(ctx, userID)
}

func (s *AuthService) revokeAll(ctx context.Context, subject uuid.UUID) error {
	tokens, err := s.repo.RevokeAllRefreshTokens(ctx, subject)
	if err != nil {
		return err
	}
	for _, t := range tokens {
		if err := s.redis.Del(ctx, auth.RefreshRedisKey(t.Audience, t.TokenHash)).Err(); err != nil && err != redis.Nil {
			return err
		}
	}
	return nil
}

func (s *AuthService) persistRefresh(ctx context.Context, subject uuid.UUID, audience, hash string, expires time.Time) error {
	_, err := s.repo.InsertRefreshToken(ctx, repo.InsertRefreshTokenParams{
		ID:        uuid.New(),
		Subject:   subject,
		Audience:  audience,
		TokenHash: hash,
		ExpiresAt: expires,
		CreatedAt: util.Now(),
	})
	if err != nil {
		return err
	}

	if err := s.repo.InvalidateOtherRefreshTokens(ctx, subject, audience, hash); err != nil {
		return err
	}

	return s.redis.Set(ctx, auth.RefreshRedisKey(audience, hash), "active", time.Until(expires)).Err()
}

// GetUserByID is used by the passkey ceremonies.
func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (repo.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *AuthService) ListPasskeys(ctx context.Context, userID uuid.UUID) ([]repo.Passkey, error) {
	return s.repo.ListPasskeys(ctx, userID)
}

func (s *AuthService) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (repo.Passkey, error) {
	return s.repo.GetPasskeyByCredentialID(ctx, credentialID)
}

func (s *AuthService) CreatePasskey(ctx context.Context, arg repo.CreatePasskeyParams) (repo.Passkey, error) {
	return s.repo.CreatePasskey(ctx, arg)
}

func (s *AuthService) UpdatePasskeyCounter(ctx context.Context, id uuid.UUID, signCount uint32, cloned bool) error {
	return s.repo.UpdatePasskeyCounter(ctx, id, signCount, cloned)
}

// GetUserByEmail resolves the account a passkey login ceremony starts for.
func (s *AuthService) GetUserByEmail(ctx context.Context, email string) (repo.User, error) {
	return s.repo.GetUserByEmail(ctx, util.NormalizeEmail(email))
}
