package fines

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/validation"
)

const maxEvidenceBytes = 10 << 20

type ServiceProvider interface {
	Report(ctx context.Context, actor auth.Actor, in ReportInput) (ReportResult, error)
	ListMine(ctx context.Context, actor auth.Actor) ([]Fine, error)
	Pay(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error)
	Contest(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) error
	Review(ctx context.Context, actor auth.Actor, id uuid.UUID, to Status, notes *string) (Fine, error)
	Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error
}

type Handler struct {
	service ServiceProvider
}

func NewHandler(service ServiceProvider) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes expects r to be behind the auth middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/violations/types/", h.violationTypes)
	r.With(httpmiddleware.RequireRoles(auth.Officers...)).Post("/users/violations/report/", h.report)
	r.Get("/users/me/fines/", h.listMine)
	r.Post("/users/fines/{fineID}/pay/", h.pay)
	r.Post("/users/fines/{fineID}/contest/", h.contest)
	r.With(httpmiddleware.RequireRoles(auth.RoleManager)).Patch("/users/fines/{fineID}/status/", h.review)
	r.With(httpmiddleware.RequireRoles(auth.RoleSuperuser)).Delete("/users/fines/{fineID}/", h.delete)
}

func (h *Handler) violationTypes(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, ViolationTypes())
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())

	var in ReportInput
	if respond.IsMultipart(r) {
		var ok bool
		if in, ok = readMultipartReport(w, r); !ok {
			return
		}
		if err := validation.Struct(&in); err != nil {
			respond.Validation(w, err)
			return
		}
	} else if !respond.Decode(w, r, &in) {
		return
	}

	res, err := h.service.Report(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, res)
}

func readMultipartReport(w http.ResponseWriter, r *http.Request) (ReportInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEvidenceBytes+(1<<20))
	if err := r.ParseMultipartForm(maxEvidenceBytes); err != nil {
		respond.BadRequest(w, "Invalid multipart form.", nil)
		return ReportInput{}, false
	}
	in := ReportInput{
		Plate:  r.FormValue("plate"),
		Reason: r.FormValue("reason"),
		Notes:  r.FormValue("notes"),
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return in, true
	}
	if err != nil {
		respond.BadRequest(w, "Invalid image upload.", nil)
		return ReportInput{}, false
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxEvidenceBytes))
	if err != nil {
		respond.BadRequest(w, "Invalid image upload.", nil)
		return ReportInput{}, false
	}
	in.Evidence = &Evidence{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        body,
	}
	return in, true
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	list, err := h.service.ListMine(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, list)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}
	count, err := h.service.Pay(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"message":             "Fine paid successfully",
		"new_violation_count": count,
	})
}

func (h *Handler) contest(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Reason string `json:"reason" validate:"max=1000"`
	}
	if !respond.Decode(w, r, &payload) {
		return
	}
	if err := h.service.Contest(r.Context(), actor, id, payload.Reason); err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{
		"message": "Fine contested successfully. Status is now pending review.",
	})
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}

	var payload struct {
		Status Status  `json:"status" validate:"required,oneof=unpaid cancelled"`
		Notes  *string `json:"notes" validate:"omitempty,max=1000"`
	}
	if !respond.Decode(w, r, &payload) {
		return
	}
	f, err := h.service.Review(r.Context(), actor, id, payload.Status, payload.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, f)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpmiddleware.GetActor(r.Context())
	id, ok := uuidParam(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func uuidParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "fineID"))
	if err != nil {
		respond.NotFound(w, "Not found.")
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		respond.Forbidden(w, "Permission denied.")
	case errors.Is(err, ErrPlateReasonRequired):
		respond.BadRequest(w, "Plate and reason are required.", nil)
	case errors.Is(err, ErrContestReasonMissing):
		respond.BadRequest(w, "Reason is required.", nil)
	case errors.Is(err, ErrInvalidReason):
		respond.BadRequest(w, "Invalid violation reason.", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.BadRequest(w, err.Error(), nil)
	case errors.Is(err, ErrVehicleNotFound):
		respond.NotFound(w, "Vehicle not found.")
	case errors.Is(err, ErrNotFound):
		respond.NotFound(w, "Not found.")
	case errors.Is(err, ErrAlreadyPaid):
		respond.Conflict(w, "Fine is already paid.")
	case errors.Is(err, ErrNotPayable):
		respond.Conflict(w, "Cancelled fines cannot be paid.")
	case errors.Is(err, ErrNotContestable):
		respond.Conflict(w, "Only unpaid fines can be contested.")
	case errors.Is(err, ErrInvalidTransition):
		respond.Conflict(w, "This status change is not allowed.")
	default:
		respond.Internal(w, r, err)
	}
}
