package vehicles

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
)

type ServiceProvider interface {
	ListVehicles(ctx context.Context, actor auth.Actor) ([]Vehicle, error)
	GetVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID) (Vehicle, error)
	CreateVehicle(ctx context.Context, actor auth.Actor, in VehicleInput) (Vehicle, error)
	UpdateVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID, in VehicleUpdate) (Vehicle, error)
	DeleteVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	ListSessions(ctx context.Context, actor auth.Actor, active *bool) ([]Session, error)
	GetSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (Session, error)
	StartSession(ctx context.Context, actor auth.Actor, in StartInput) (Session, error)
	EndSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (Session, error)
	SearchByPlate(ctx context.Context, plate string) (ControllerSession, error)
}

type Handler struct {
	service ServiceProvider
}

func NewHandler(service ServiceProvider) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/vehicles", func(r chi.Router) {
		r.Get("/", h.listVehicles)
		r.Post("/", h.createVehicle)
		r.Get("/{vehicleID}/", h.getVehicle)
		r.Patch("/{vehicleID}/", h.updateVehicle)
		r.Delete("/{vehicleID}/", h.deleteVehicle)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.listSessions)
		r.Post("/", h.startSession)
		r.With(httpmiddleware.RequireRoles(auth.Officers...)).Get("/search_by_plate/", h.searchByPlate)
		r.Get("/{sessionID}/", h.getSession)
		r.Post("/{sessionID}/end_session/", h.endSession)
	})
}

func (h *Handler) listVehicles(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	list, err := h.service.ListVehicles(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) createVehicle(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in VehicleInput
	if !respond.Decode(w, r, &in) {
		return
	}
	v, err := h.service.CreateVehicle(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, v)
}

func (h *Handler) getVehicle(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "vehicleID")
	if !ok {
		return
	}
	v, err := h.service.GetVehicle(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

func (h *Handler) updateVehicle(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "vehicleID")
	if !ok {
		return
	}

	var in VehicleUpdate
	if !respond.Decode(w, r, &in) {
		return
	}
	v, err := h.service.UpdateVehicle(r.Context(), actor, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, v)
}

func (h *Handler) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "vehicleID")
	if !ok {
		return
	}
	if err := h.service.DeleteVehicle(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var active *bool
	if raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("active"))); raw != "" {
		v := raw == "true" || raw == "1"
		active = &v
	}
	list, err := h.service.ListSessions(r.Context(), actor, active)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	sess, err := h.service.GetSession(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in StartInput
	if !respond.Decode(w, r, &in) {
		return
	}
	sess, err := h.service.StartSession(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	sess, err := h.service.EndSession(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sess)
}

func (h *Handler) searchByPlate(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.SearchByPlate(r.Context(), r.URL.Query().Get("plate"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respond.NotFound(w, "Not found.")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrVehicleNotFound):
		respond.NotFound(w, "Vehicle Not Found")
	case errors.Is(err, ErrNoActiveSession):
		respond.NotFound(w, "No Active Session Found")
	case errors.Is(err, ErrParkingNotFound):
		respond.NotFound(w, "Parking not found.")
	case errors.Is(err, ErrNotFound):
		respond.NotFound(w, "Not found.")
	case errors.Is(err, ErrVehicleNotOwned):
		respond.Forbidden(w, "You do not own this vehicle.")
	case errors.Is(err, ErrSessionNotOwned):
		respond.Forbidden(w, "Not your session.")
	case errors.Is(err, ErrAccountInactive):
		respond.Forbidden(w, "Your account is not active.")
	case errors.Is(err, ErrForbidden):
		respond.Forbidden(w, "You do not have permission to perform this action.")
	case errors.Is(err, ErrActiveSession):
		respond.Conflict(w, "This vehicle already has an active session.")
	case errors.Is(err, ErrSessionCompleted):
		respond.Conflict(w, "Session is already completed.")
	case errors.Is(err, ErrDuplicatePlate):
		respond.Conflict(w, "A vehicle with this plate is already registered.")
	case errors.Is(err, ErrInvalidInput):
		respond.BadRequest(w, err.Error(), nil)
	case errors.Is(err, ErrMultipleActive):
		respond.Error(w, http.StatusInternalServerError, respond.CodeInternal, "Multiple active sessions found (System Error)", nil)
	default:
		respond.Internal(w, r, err)
	}
}
