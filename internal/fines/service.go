package fines

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/metrics"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/storage"
	"github.com/tpsparking/api/internal/util"
)

type txStore interface {
	LockOwner(ctx context.Context, userID uuid.UUID) error
	GetFine(ctx context.Context, id uuid.UUID) (Fine, error)
	InsertFine(ctx context.Context, in NewFine) (uuid.UUID, error)
	UpdateFine(ctx context.Context, id uuid.UUID, change StatusChange) error
	DeleteFine(ctx context.Context, id uuid.UUID) error
	Recount(ctx context.Context, ownerID uuid.UUID) (int, error)
	SetViolationState(ctx context.Context, ownerID uuid.UUID, count int) error
}

type store interface {
	ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Fine, error)
	GetFine(ctx context.Context, id uuid.UUID) (Fine, error)
	FindVehicleByPlate(ctx context.Context, plate string) (VehicleOwner, error)
	ActiveSessionID(ctx context.Context, vehicleID uuid.UUID) (*uuid.UUID, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx txStore) error) error
}

// Service issues fines and keeps every owner's violation count in step with them.
type Service struct {
	store    store
	uploader storage.Uploader
	now      func() time.Time
}

func NewService(repo *Repository, uploader storage.Uploader) *Service {
	return newService(repo, uploader)
}

func newService(st store, uploader storage.Uploader) *Service {
	if uploader == nil {
		uploader = storage.NoopUploader{}
	}
	return &Service{store: st, uploader: uploader, now: util.Now}
}

// mutate runs fn with the owner row locked, then recounts the owner's outstanding
// fines and writes violations_count and is_active before committing.
func (s *Service) mutate(ctx context.Context, ownerID uuid.UUID, fn func(ctx context.Context, tx txStore) error) (int, error) {
	var count int
	err := s.store.InTx(ctx, func(ctx context.Context, tx txStore) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		n, err := tx.Recount(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("recount violations: %w", err)
		}
		if err := tx.SetViolationState(ctx, ownerID, n); err != nil {
			return fmt.Errorf("store violation state: %w", err)
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count >= repo.BlockThreshold {
		metrics.AccountsBlockedTotal.Inc()
		log.Warn().Str("component", "fines").Str("user_id", ownerID.String()).Int("violations", count).Msg("account blocked by violations")
	}
	return count, nil
}

// Report issues a fine against the vehicle with the given plate. The amount comes from
// the price table; the fine is linked to the vehicle's active session when there is one.
func (s *Service) Report(ctx context.Context, actor auth.Actor, in ReportInput) (ReportResult, error) {
	if !actor.Can(auth.Officers...) {
		return ReportResult{}, ErrForbidden
	}
	plate := util.NormalizePlate(in.Plate)
	reason := strings.TrimSpace(in.Reason)
	if plate == "" || reason == "" {
		return ReportResult{}, ErrPlateReasonRequired
	}
	amount, ok := PriceFor(reason)
	if !ok {
		return ReportResult{}, ErrInvalidReason
	}

	vehicle, err := s.store.FindVehicleByPlate(ctx, plate)
	if err != nil {
		return ReportResult{}, err
	}
	sessionID, err := s.store.ActiveSessionID(ctx, vehicle.ID)
	if err != nil {
		return ReportResult{}, err
	}

	fine := NewFine{
		VehicleID: vehicle.ID,
		SessionID: sessionID,
		IssuedBy:  actor.ID,
		Amount:    amount,
		Reason:    reason,
		Notes:     strings.TrimSpace(in.Notes),
	}
	if in.Evidence != nil && len(in.Evidence.Body) > 0 {
		fine.EvidenceURL, fine.EvidenceObjectKey = s.uploadEvidence(ctx, vehicle.Plate, in.Evidence)
	}

	var id uuid.UUID
	count, err := s.mutate(ctx, vehicle.OwnerID, func(ctx context.Context, tx txStore) error {
		var err error
		id, err = tx.InsertFine(ctx, fine)
		return err
	})
	if err != nil {
		if fine.EvidenceObjectKey != nil {
			s.discardEvidence(ctx, *fine.EvidenceObjectKey)
		}
		return ReportResult{}, err
	}

	metrics.FinesIssuedTotal.WithLabelValues(reason).Inc()
	log.Info().Str("component", "fines").Str("fine_id", id.String()).Str("plate", vehicle.Plate).
		Str("issued_by", actor.ID.String()).Int("violations", count).Msg("violation reported")

	return ReportResult{
		Message:           "Violation reported successfully.",
		FineID:            id,
		Amount:            amount,
		Plate:             vehicle.Plate,
		NewViolationCount: count,
	}, nil
}

// uploadEvidence stores the photo; a failed upload leaves the fine without evidence.
func (s *Service) uploadEvidence(ctx context.Context, plate string, ev *Evidence) (*string, *string) {
	ext := strings.ToLower(path.Ext(ev.Filename))
	name := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.TrimSuffix(path.Base(ev.Filename), ext))
	if name == "" {
		name = "evidence"
	}
	key := util.ObjectKey("fines", plate+"_"+name, ext)

	res, err := s.uploader.Upload(ctx, storage.UploadInput{
		Key:          key,
		Body:         ev.Body,
		ContentType:  ev.ContentType,
		CacheControl: "private, max-age=31536000",
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			log.Info().Str("component", "fines").Str("plate", plate).Msg("evidence dropped, no storage configured")
		} else {
			log.Warn().Err(err).Str("component", "fines").Str("plate", plate).Msg("evidence upload failed")
		}
		return nil, nil
	}
	return &res.URL, &res.Key
}

// discardEvidence removes an object no fine points to. Failures are logged with the key.
func (s *Service) discardEvidence(ctx context.Context, key string) {
	if err := s.uploader.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn().Err(err).Str("component", "fines").Str("object_key", key).Msg("orphaned evidence not removed")
	}
}

func (s *Service) ListMine(ctx context.Context, actor auth.Actor) ([]Fine, error) {
	return s.store.ListForOwner(ctx, actor.ID)
}

// ownedFine hides fines of other drivers behind ErrNotFound.
func (s *Service) ownedFine(ctx context.Context, actor auth.Actor, id uuid.UUID) (Fine, error) {
	f, err := s.store.GetFine(ctx, id)
	if err != nil {
		return Fine{}, err
	}
	if f.OwnerID != actor.ID {
		return Fine{}, ErrNotFound
	}
	return f, nil
}

// Pay marks the caller's fine paid and returns the recounted violations.
func (s *Service) Pay(ctx context.Context, actor auth.Actor, id uuid.UUID) (int, error) {
	f, err := s.ownedFine(ctx, actor, id)
	if err != nil {
		return 0, err
	}
	count, err := s.mutate(ctx, f.OwnerID, func(ctx context.Context, tx txStore) error {
		current, err := tx.GetFine(ctx, id)
		if err != nil {
			return err
		}
		switch current.Status {
		case StatusPaid:
			return ErrAlreadyPaid
		case StatusCancelled:
			return ErrNotPayable
		}
		now := s.now()
		return tx.UpdateFine(ctx, id, StatusChange{Status: StatusPaid, PaidAt: &now})
	})
	if err != nil {
		return 0, err
	}
	metrics.FineTransitionsTotal.WithLabelValues(string(StatusPaid)).Inc()
	log.Info().Str("component", "fines").Str("fine_id", id.String()).Int("violations", count).Msg("fine paid")
	return count, nil
}

// Contest moves an unpaid fine of the caller to disputed. The fine keeps counting.
func (s *Service) Contest(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrContestReasonMissing
	}
	f, err := s.ownedFine(ctx, actor, id)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, f.OwnerID, func(ctx context.Context, tx txStore) error {
		current, err := tx.GetFine(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusUnpaid {
			return ErrNotContestable
		}
		return tx.UpdateFine(ctx, id, StatusChange{Status: StatusDisputed, ContestationReason: &reason})
	})
	if err != nil {
		return err
	}
	metrics.FineTransitionsTotal.WithLabelValues(string(StatusDisputed)).Inc()
	return nil
}

// allowedReview lists the status changes a manager may make.
var allowedReview = map[Status][]Status{
	StatusDisputed: {StatusUnpaid, StatusCancelled},
	StatusUnpaid:   {StatusCancelled},
}

// Review resolves a dispute or cancels an unpaid fine.
func (s *Service) Review(ctx context.Context, actor auth.Actor, id uuid.UUID, to Status, notes *string) (Fine, error) {
	if !actor.Can(auth.RoleManager) {
		return Fine{}, ErrForbidden
	}
	f, err := s.store.GetFine(ctx, id)
	if err != nil {
		return Fine{}, err
	}
	_, err = s.mutate(ctx, f.OwnerID, func(ctx context.Context, tx txStore) error {
		current, err := tx.GetFine(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, next := range allowedReview[current.Status] {
			allowed = allowed || next == to
		}
		if !allowed {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, to)
		}
		return tx.UpdateFine(ctx, id, StatusChange{Status: to, Notes: notes})
	})
	if err != nil {
		return Fine{}, err
	}
	metrics.FineTransitionsTotal.WithLabelValues(string(to)).Inc()
	log.Info().Str("component", "fines").Str("fine_id", id.String()).Str("status", string(to)).
		Str("actor", actor.ID.String()).Msg("fine reviewed")
	return s.store.GetFine(ctx, id)
}

// Delete removes a fine and recounts its owner.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if actor.Role != auth.RoleSuperuser {
		return ErrForbidden
	}
	f, err := s.store.GetFine(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.mutate(ctx, f.OwnerID, func(ctx context.Context, tx txStore) error {
		if _, err := tx.GetFine(ctx, id); err != nil {
			return err
		}
		return tx.DeleteFine(ctx, id)
	})
	if err != nil {
		return err
	}
	log.Info().Str("component", "fines").Str("fine_id", id.String()).Str("actor", actor.ID.String()).Msg("fine deleted")
	return nil
}
