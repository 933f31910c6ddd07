package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/service"
)

// AuthProvider is the account surface the handlers need; *service.AuthService implements it.
type AuthProvider interface {
	JWT() *auth.JWTManager
	Login(ctx context.Context, entry service.Entry, email, password string) (*service.LoginResult, error)
	LoginWithUser(ctx context.Context, entry service.Entry, user repo.User) (*service.LoginResult, error)
	Refresh(ctx context.Context, rawToken string) (*service.LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Register(ctx context.Context, in service.RegisterInput) (*service.LoginResult, error)
	GetProfile(ctx context.Context, id uuid.UUID) (repo.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, in service.ProfileUpdate) (repo.User, error)
	ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error

	GetUserByID(ctx context.Context, id uuid.UUID) (repo.User, error)
	GetUserByEmail(ctx context.Context, email string) (repo.User, error)
	ListPasskeys(ctx context.Context, userID uuid.UUID) ([]repo.Passkey, error)
	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (repo.Passkey, error)
	CreatePasskey(ctx context.Context, arg repo.CreatePasskeyParams) (repo.Passkey, error)
	UpdatePasskeyCounter(ctx context.Context, id uuid.UUID, signCount uint32, cloned bool) error
}

const (
	msgInvalidCredentials = "Invalid credentials."
	msgAccountBlocked     = "Login denied. Your account is blocked due to excessive violations."
	msgRefreshInvalid     = "Token is invalid or expired."
	msgRegisterFailed     = "Registration failed. Please check the information entered."
	msgResetFailed        = "Password reset failed. Please check the information entered."
	msgWrongPassword      = "Wrong password."
)

type credentialsRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type registerRequest struct {
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

type profileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
	Email     *string `json:"email"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required"`
}

type resetConfirmRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type tokenResponse struct {
	Access        string          `json:"access"`
	Refresh       string          `json:"refresh"`
	Role          auth.Role       `json:"role"`
	AllowedCities []string        `json:"allowed_cities"`
	User          service.Profile `json:"user"`
	Message       string          `json:"message,omitempty"`
}

func newTokenResponse(result *service.LoginResult) tokenResponse {
	return tokenResponse{
		Access:        result.AccessToken,
		Refresh:       result.RefreshToken,
		Role:          result.Role,
		AllowedCities: result.AllowedCities,
		User:          result.Profile,
	}
}

func (h *Handler) login(entry service.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in credentialsRequest
		if !respond.Decode(w, r, &in) {
			return
		}

		result, err := h.auth.Login(r.Context(), entry, in.Email, in.Password)
		if err != nil {
			h.handleAuthError(w, r, err)
			return
		}
		respond.JSON(w, http.StatusOK, newTokenResponse(result))
	}
}

// Refresh rotates a refresh token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if !respond.Decode(w, r, &in) {
		return
	}

	result, err := h.auth.Refresh(r.Context(), in.Refresh)
	if err != nil {
		if errors.Is(err, service.ErrRefreshInvalid) {
			respond.Unauthorized(w, msgRefreshInvalid)
			return
		}
		h.handleAuthError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, newTokenResponse(result))
}

// Logout revokes the presented refresh token. Unknown tokens are ignored.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if !respond.Decode(w, r, &in) {
		return
	}
	if err := h.auth.Logout(r.Context(), in.Refresh); err != nil {
		respond.Internal(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Logged out."})
}

// Register creates a user-role account and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if !respond.Decode(w, r, &in) {
		return
	}

	result, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:     in.Email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		if errors.Is(err, service.ErrRegistrationFailed) {
			respond.BadRequest(w, msgRegisterFailed, nil)
			return
		}
		respond.Internal(w, r, err)
		return
	}

	resp := newTokenResponse(result)
	resp.Message = "Registration successful."
	respond.JSON(w, http.StatusCreated, resp)
}

// Profile returns the caller's account.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	user, err := h.auth.GetProfile(r.Context(), actor.ID)
	if err != nil {
		h.handleAccountError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, service.NewProfile(user))
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in profileRequest
	if !respond.Decode(w, r, &in) {
		return
	}

	user, err := h.auth.UpdateProfile(r.Context(), actor.ID, service.ProfileUpdate{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
	})
	if err != nil {
		h.handleAccountError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, service.NewProfile(user))
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in changePasswordRequest
	if !respond.Decode(w, r, &in) {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), actor.ID, in.OldPassword, in.NewPassword); err != nil {
		if errors.Is(err, service.ErrWrongPassword) {
			respond.BadRequest(w, msgWrongPassword, map[string]string{"old_password": msgWrongPassword})
			return
		}
		h.handleAccountError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

// DeleteAccount removes the caller together with vehicles, sessions and fines.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	if err := h.auth.DeleteAccount(r.Context(), actor.ID); err != nil {
		h.handleAccountError(w, r, err)
		return
	}
	log.Info().Str("user_id", actor.ID.String()).Msg("account deleted")
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Account deleted successfully"})
}

// PasswordResetRequest answers the same message whether or not the address exists.
func (h *Handler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !respond.Decode(w, r, &in) {
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), in.Email); err != nil {
		respond.Internal(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": service.ResetRequestedMessage})
}

func (h *Handler) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var in resetConfirmRequest
	if !respond.Decode(w, r, &in) {
		return
	}
	if err := h.auth.ConfirmPasswordReset(r.Context(), in.Token, in.NewPassword); err != nil {
		if errors.Is(err, service.ErrResetFailed) {
			respond.BadRequest(w, msgResetFailed, nil)
			return
		}
		respond.Internal(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"message": "Password has been reset successfully."})
}

func (h *Handler) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respond.Unauthorized(w, msgInvalidCredentials)
	case errors.Is(err, service.ErrAccountBlocked):
		respond.Forbidden(w, msgAccountBlocked)
	default:
		respond.Internal(w, r, err)
	}
}

func (h *Handler) handleAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		respond.Unauthorized(w, "User not found.")
	case errors.Is(err, service.ErrInvalidInput):
		respond.BadRequest(w, err.Error(), nil)
	default:
		respond.Internal(w, r, err)
	}
}
