package shifts

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
)

type ServiceProvider interface {
	Current(ctx context.Context, actor auth.Actor) (Shift, error)
	Start(ctx context.Context, actor auth.Actor) (Shift, bool, error)
	End(ctx context.Context, actor auth.Actor, shiftID *uuid.UUID) (Shift, int64, error)
	History(ctx context.Context, actor auth.Actor, limit int) ([]Shift, error)
	ActiveOfficers(ctx context.Context, city string) ([]ActiveOfficer, error)
}

type Handler struct {
	service ServiceProvider
}

func NewHandler(service ServiceProvider) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmiddleware.RequireRoles(auth.Officers...))
		r.Get("/users/shifts/current/", h.current)
		r.Post("/users/shifts/start/", h.start)
		r.Post("/users/shifts/end/", h.end)
		r.Get("/users/shifts/history/", h.history)
		r.With(httpmiddleware.RequireRoles(auth.RoleManager)).Get("/users/shifts/active-officers/", h.activeOfficers)
	})
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	shift, err := h.service.Current(r.Context(), actor)
	if errors.Is(err, ErrNoActiveShift) {
		respond.JSON(w, http.StatusOK, map[string]any{"active": false, "shift": nil})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"active": true, "shift": shift})
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	shift, created, err := h.service.Start(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respond.JSON(w, status, shift)
}

func (h *Handler) end(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var payload struct {
		ShiftID *uuid.UUID `json:"shift_id"`
	}
	if !respond.Decode(w, r, &payload) {
		return
	}
	shift, seconds, err := h.service.End(r.Context(), actor, payload.ShiftID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"message":          "Shift ended.",
		"shift":            shift,
		"duration_seconds": seconds,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	list, err := h.service.History(r.Context(), actor, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"shifts": list})
}

func (h *Handler) activeOfficers(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	list, err := h.service.ActiveOfficers(r.Context(), city)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"city":            strings.TrimSpace(city),
		"active_officers": list,
		"count":           len(list),
	})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNoActiveShift):
		respond.NotFound(w, "No active shift found.")
	case errors.Is(err, ErrCityRequired):
		respond.BadRequest(w, "City parameter is required.", nil)
	default:
		respond.Internal(w, r, err)
	}
}
