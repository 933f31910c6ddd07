package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/http/respond"
)

type contextKey string

const (
	ContextKeySubject  contextKey = "subject"
	ContextKeyAudience contextKey = "audience"
	ContextKeyActor    contextKey = "actor"
)

// Auth validates the bearer access token and injects the caller into the context.
func Auth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				respond.Unauthorized(w, "Authentication credentials were not provided.")
				return
			}

			claims, err := jwtManager.ParseAndValidate(parts[1])
			if err != nil {
				respond.Unauthorized(w, "Given token not valid.")
				return
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil || len(claims.Audience) == 0 {
				respond.Unauthorized(w, "Given token not valid.")
				return
			}

			actor := auth.Actor{ID: id, Role: claims.Role, AllowedCities: claims.AllowedCities}
			ctx := context.WithValue(r.Context(), ContextKeySubject, claims.Subject)
			ctx = context.WithValue(ctx, ContextKeyAudience, claims.Audience[0])
			ctx = WithActor(ctx, actor)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithActor stores actor in ctx. Tests use it to skip token handling.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	ctx = context.WithValue(ctx, ContextKeySubject, actor.ID.String())
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// GetActor returns the authenticated caller.
func GetActor(ctx context.Context) (auth.Actor, bool) {
	actor, ok := ctx.Value(ContextKeyActor).(auth.Actor)
	return actor, ok
}

// GetSubject returns the token subject.
func GetSubject(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeySubject).(string)
	return val
}

// GetAudience returns the token audience.
func GetAudience(ctx context.Context) string {
	val, _ := ctx.Value(ContextKeyAudience).(string)
	return val
}

// RequireRoles rejects callers whose role does not satisfy auth.Authorize.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r.Context())
			if !ok {
				respond.Unauthorized(w, "Authentication credentials were not provided.")
				return
			}
			if !auth.Authorize(actor.Role, roles...) {
				respond.Forbidden(w, "You do not have permission to perform this action.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
