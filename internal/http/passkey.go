package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/service"
)

const (
	passkeyRegisterSessionPrefix = "webauthn:register:"
	passkeyLoginSessionPrefix    = "webauthn:login:"
	passkeySessionTTL            = 5 * time.Minute
)

var errCeremonyNotFound = errors.New("passkey ceremony not found")

// CeremonyStore keeps WebAuthn ceremony state between start and finish; *redis.Client implements it.
type CeremonyStore interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

func (h *Handler) PasskeyRegisterStart(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	ctx := r.Context()

	waUser, err := h.loadWebAuthnUser(ctx, actor.ID)
	if err != nil {
		respond.Internal(w, r, err)
		return
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(waUser.credentials))
	for _, cred := range waUser.credentials {
		exclusions = append(exclusions, cred.Descriptor())
	}

	opts, sessionData, err := h.webauthn.BeginRegistration(
		waUser,
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{UserVerification: protocol.VerificationRequired}),
	)
	if err != nil {
		respond.BadRequest(w, err.Error(), nil)
		return
	}

	sessionID := uuid.NewString()
	if err := h.storeCeremony(ctx, passkeyRegisterSessionPrefix, sessionID, sessionData, actor.ID); err != nil {
		respond.Internal(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"session": sessionID,
		"options": map[string]any{"publicKey": opts.Response},
	})
}

func (h *Handler) PasskeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	ctx := r.Context()

	sessionData, userID, ok := h.ceremonyFromQuery(w, r, passkeyRegisterSessionPrefix)
	if !ok {
		return
	}
	if userID != actor.ID {
		respond.BadRequest(w, "Invalid or expired passkey session.", nil)
		return
	}

	waUser, err := h.loadWebAuthnUser(ctx, userID)
	if err != nil {
		respond.Internal(w, r, err)
		return
	}

	creation, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		respond.BadRequest(w, "Invalid passkey response.", nil)
		return
	}

	credential, err := h.webauthn.CreateCredential(waUser, *sessionData, creation)
	if err != nil {
		respond.BadRequest(w, err.Error(), nil)
		return
	}

	transports := make([]string, 0, len(credential.Transport))
	for _, t := range credential.Transport {
		transports = append(transports, string(t))
	}

	if _, err := h.auth.CreatePasskey(ctx, repo.CreatePasskeyParams{
		UserID:       userID,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transports,
		AAGUID:       credential.Authenticator.AAGUID,
		Cloned:       credential.Authenticator.CloneWarning,
	}); err != nil {
		respond.Internal(w, r, err)
		return
	}

	respond.JSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (h *Handler) PasskeyLoginStart(w http.ResponseWriter, r *http.Request) {
	var in emailRequest
	if !respond.Decode(w, r, &in) {
		return
	}
	ctx := r.Context()

	user, err := h.auth.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respond.Unauthorized(w, "Passkey not configured.")
			return
		}
		respond.Internal(w, r, err)
		return
	}

	waUser, err := h.loadWebAuthnUser(ctx, user.ID)
	if err != nil {
		respond.Internal(w, r, err)
		return
	}
	if len(waUser.credentials) == 0 {
		respond.Unauthorized(w, "Passkey not configured.")
		return
	}

	opts, sessionData, err := h.webauthn.BeginLogin(waUser)
	if err != nil {
		respond.BadRequest(w, err.Error(), nil)
		return
	}

	sessionID := uuid.NewString()
	if err := h.storeCeremony(ctx, passkeyLoginSessionPrefix, sessionID, sessionData, user.ID); err != nil {
		respond.Internal(w, r, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"session": sessionID,
		"options": map[string]any{"publicKey": opts.Response},
	})
}

// PasskeyLoginFinish validates the assertion and issues tokens through the generic entry point.
func (h *Handler) PasskeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionData, userID, ok := h.ceremonyFromQuery(w, r, passkeyLoginSessionPrefix)
	if !ok {
		return
	}

	user, err := h.auth.GetUserByID(ctx, userID)
	if err != nil {
		respond.Unauthorized(w, msgInvalidCredentials)
		return
	}

	waUser, err := h.loadWebAuthnUser(ctx, user.ID)
	if err != nil {
		respond.Internal(w, r, err)
		return
	}

	assertion, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		respond.BadRequest(w, "Invalid passkey response.", nil)
		return
	}

	credential, err := h.webauthn.ValidateLogin(waUser, *sessionData, assertion)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("passkey: assertion rejected")
		respond.Unauthorized(w, msgInvalidCredentials)
		return
	}

	stored, err := h.auth.GetPasskeyByCredentialID(ctx, credential.ID)
	if err != nil || stored.UserID != user.ID {
		respond.Unauthorized(w, msgInvalidCredentials)
		return
	}

	if err := h.auth.UpdatePasskeyCounter(ctx, stored.ID, credential.Authenticator.SignCount, credential.Authenticator.CloneWarning); err != nil {
		respond.Internal(w, r, err)
		return
	}

	result, err := h.auth.LoginWithUser(ctx, service.EntryGeneric, user)
	if err != nil {
		h.handleAuthError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, newTokenResponse(result))
}

func (h *Handler) ceremonyFromQuery(w http.ResponseWriter, r *http.Request, prefix string) (*webauthn.SessionData, uuid.UUID, bool) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		respond.BadRequest(w, "Missing passkey session.", nil)
		return nil, uuid.Nil, false
	}

	data, userID, err := h.consumeCeremony(r.Context(), prefix, sessionID)
	if err != nil {
		if errors.Is(err, errCeremonyNotFound) {
			respond.BadRequest(w, "Invalid or expired passkey session.", nil)
			return nil, uuid.Nil, false
		}
		respond.Internal(w, r, err)
		return nil, uuid.Nil, false
	}
	return data, userID, true
}

type ceremonyEnvelope struct {
	Session *webauthn.SessionData `json:"session"`
	UserID  string                `json:"user_id"`
}

func (h *Handler) storeCeremony(ctx context.Context, prefix, sessionID string, data *webauthn.SessionData, userID uuid.UUID) error {
	payload, err := json.Marshal(ceremonyEnvelope{Session: data, UserID: userID.String()})
	if err != nil {
		return err
	}
	return h.ceremonies.Set(ctx, prefix+sessionID, payload, passkeySessionTTL).Err()
}

// consumeCeremony reads and deletes in one round trip so a ceremony cannot be replayed.
func (h *Handler) consumeCeremony(ctx context.Context, prefix, sessionID string) (*webauthn.SessionData, uuid.UUID, error) {
	raw, err := h.ceremonies.GetDel(ctx, prefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, uuid.Nil, errCeremonyNotFound
		}
		return nil, uuid.Nil, err
	}

	var envelope ceremonyEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Session == nil {
		return nil, uuid.Nil, errCeremonyNotFound
	}
	userID, err := uuid.Parse(envelope.UserID)
	if err != nil {
		return nil, uuid.Nil, errCeremonyNotFound
	}
	return envelope.Session, userID, nil
}

func (h *Handler) loadWebAuthnUser(ctx context.Context, id uuid.UUID) (*webAuthnUser, error) {
	user, err := h.auth.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	passkeys, err := h.auth.ListPasskeys(ctx, id)
	if err != nil {
		return nil, err
	}
	return newWebAuthnUser(user, passkeys), nil
}

type webAuthnUser struct {
	id          uuid.UUID
	name        string
	displayName string
	credentials []webauthn.Credential
}

func newWebAuthnUser(user repo.User, passkeys []repo.Passkey) *webAuthnUser {
	display := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if display == "" {
		display = user.Email
	}
	return &webAuthnUser{
		id:          user.ID,
		name:        user.Email,
		displayName: display,
		credentials: toWebauthnCredentials(passkeys),
	}
}

func (u *webAuthnUser) WebAuthnID() []byte {
	id := make([]byte, 16)
	copy(id, u.id[:])
	return id
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.name
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	return u.displayName
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func toWebauthnCredentials(passkeys []repo.Passkey) []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(passkeys))
	for _, pk := range passkeys {
		cred := webauthn.Credential{
			ID:        append([]byte(nil), pk.CredentialID...),
			PublicKey: append([]byte(nil), pk.PublicKey...),
			Transport: toAuthenticatorTransports(pk.Transports),
		}
		cred.Authenticator.SignCount = pk.SignCount
		cred.Authenticator.CloneWarning = pk.Cloned
		if len(pk.AAGUID) > 0 {
			cred.Authenticator.AAGUID = append([]byte(nil), pk.AAGUID...)
		}
		creds = append(creds, cred)
	}
	return creds
}

func toAuthenticatorTransports(values []string) []protocol.AuthenticatorTransport {
	if len(values) == 0 {
		return nil
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(values))
	for _, value := range values {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "usb":
			transports = append(transports, protocol.USB)
		case "nfc":
			transports = append(transports, protocol.NFC)
		case "ble":
			transports = append(transports, protocol.BLE)
		case "internal":
			transports = append(transports, protocol.Internal)
		case "hybrid", "cable":
			transports = append(transports, protocol.Hybrid)
		default:
			transports = append(transports, protocol.AuthenticatorTransport(value))
		}
	}
	return transports
}
