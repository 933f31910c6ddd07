package parkings

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
)

type ServiceProvider interface {
	ListCities(ctx context.Context) ([]City, error)
	CreateCity(ctx context.Context, actor auth.Actor, name, country string) (City, error)
	ListParkings(ctx context.Context, city string) ([]Parking, error)
	GetParking(ctx context.Context, id uuid.UUID) (Parking, error)
	CreateParking(ctx context.Context, actor auth.Actor, in ParkingInput) (Parking, error)
	UpdateParking(ctx context.Context, actor auth.Actor, id uuid.UUID, in ParkingInput) (Parking, error)
	DeleteParking(ctx context.Context, actor auth.Actor, id uuid.UUID) error
	ListEntrances(ctx context.Context, parkingID uuid.UUID) ([]Entrance, error)
	CreateEntrance(ctx context.Context, actor auth.Actor, parkingID uuid.UUID, in EntranceInput) (Entrance, error)
	ListSpots(ctx context.Context, parkingID *uuid.UUID) ([]Spot, error)
	CreateSpot(ctx context.Context, actor auth.Actor, in SpotInput) (Spot, error)
	SetSpotOccupied(ctx context.Context, actor auth.Actor, id uuid.UUID, occupied bool) (Spot, error)
	DeleteSpot(ctx context.Context, actor auth.Actor, id uuid.UUID) error
}

// Handler serves cities, parkings, entrances and spots.
type Handler struct {
	service ServiceProvider
}

func NewHandler(service ServiceProvider) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	managers := httpmiddleware.RequireRoles(auth.RoleManager)

	r.Get("/cities/", h.listCities)
	r.With(httpmiddleware.RequireRoles(auth.RoleSuperuser)).Post("/cities/", h.createCity)

	r.Get("/parkings/", h.listParkings)
	r.Get("/parkings/{parkingID}/", h.getParking)
	r.With(managers).Post("/parkings/", h.createParking)
	r.With(managers).Put("/parkings/{parkingID}/", h.updateParking)
	r.With(managers).Delete("/parkings/{parkingID}/", h.deleteParking)
	r.Get("/parkings/{parkingID}/entrances/", h.listEntrances)
	r.With(managers).Post("/parkings/{parkingID}/entrances/", h.createEntrance)

	r.Get("/spots/", h.listSpots)
	r.With(managers).Post("/spots/", h.createSpot)
	r.With(httpmiddleware.RequireRoles(auth.Officers...)).Patch("/spots/{spotID}/", h.updateSpot)
	r.With(managers).Delete("/spots/{spotID}/", h.deleteSpot)
}

type parkingView struct {
	Parking
	AvailableSpots int `json:"available_spots"`
}

func viewOf(p Parking) parkingView {
	return parkingView{Parking: p, AvailableSpots: p.AvailableSpots()}
}

func (h *Handler) listCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.service.ListCities(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, cities)
}

func (h *Handler) createCity(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var payload struct {
		Name    string `json:"name" validate:"required,max=100"`
		Country string `json:"country" validate:"max=100"`
	}
	if !respond.Decode(w, r, &payload) {
		return
	}

	city, err := h.service.CreateCity(r.Context(), actor, payload.Name, payload.Country)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, city)
}

func (h *Handler) listParkings(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListParkings(r.Context(), r.URL.Query().Get("city"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	views := make([]parkingView, 0, len(list))
	for _, p := range list {
		views = append(views, viewOf(p))
	}
	respond.JSON(w, http.StatusOK, views)
}

func (h *Handler) getParking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "parkingID")
	if !ok {
		return
	}
	p, err := h.service.GetParking(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, viewOf(p))
}

func (h *Handler) createParking(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in ParkingInput
	if !respond.Decode(w, r, &in) {
		return
	}
	p, err := h.service.CreateParking(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, viewOf(p))
}

func (h *Handler) updateParking(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "parkingID")
	if !ok {
		return
	}

	var in ParkingInput
	if !respond.Decode(w, r, &in) {
		return
	}
	p, err := h.service.UpdateParking(r.Context(), actor, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, viewOf(p))
}

func (h *Handler) deleteParking(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "parkingID")
	if !ok {
		return
	}
	if err := h.service.DeleteParking(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEntrances(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "parkingID")
	if !ok {
		return
	}
	list, err := h.service.ListEntrances(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) createEntrance(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "parkingID")
	if !ok {
		return
	}

	var in EntranceInput
	if !respond.Decode(w, r, &in) {
		return
	}
	e, err := h.service.CreateEntrance(r.Context(), actor, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, e)
}

func (h *Handler) listSpots(w http.ResponseWriter, r *http.Request) {
	var parkingID *uuid.UUID
	if raw := r.URL.Query().Get("parking"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.BadRequest(w, "Invalid parking id.", nil)
			return
		}
		parkingID = &id
	}
	spots, err := h.service.ListSpots(r.Context(), parkingID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, spots)
}

func (h *Handler) createSpot(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in SpotInput
	if !respond.Decode(w, r, &in) {
		return
	}
	spot, err := h.service.CreateSpot(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, spot)
}

func (h *Handler) updateSpot(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "spotID")
	if !ok {
		return
	}

	var payload struct {
		IsOccupied *bool `json:"is_occupied" validate:"required"`
	}
	if !respond.Decode(w, r, &payload) {
		return
	}
	spot, err := h.service.SetSpotOccupied(r.Context(), actor, id, *payload.IsOccupied)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, spot)
}

func (h *Handler) deleteSpot(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r, "spotID")
	if !ok {
		return
	}
	if err := h.service.DeleteSpot(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
	case errors.Is(err, ErrNotFound):
		respond.NotFound(w, "Not found.")
	case errors.Is(err, ErrForbidden):
		respond.Forbidden(w, "You cannot manage parkings in this city.")
	case errors.Is(err, ErrInvalidPolygon), errors.Is(err, ErrInvalidTariff), errors.Is(err, ErrInvalidInput):
		respond.BadRequest(w, err.Error(), nil)
	case errors.Is(err, ErrDuplicateCity), errors.Is(err, ErrDuplicateSpot):
		respond.Conflict(w, err.Error())
	default:
		respond.Internal(w, r, err)
	}
}
