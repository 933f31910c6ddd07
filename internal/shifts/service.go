package shifts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/metrics"
	"github.com/tpsparking/api/internal/util"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type store interface {
	CurrentShift(ctx context.Context, officerID uuid.UUID) (Shift, error)
	StartShift(ctx context.Context, officerID uuid.UUID, start time.Time) (Shift, bool, error)
	CloseShift(ctx context.Context, officerID uuid.UUID, id *uuid.UUID, end time.Time) (Shift, error)
	History(ctx context.Context, officerID uuid.UUID, limit int) ([]Shift, error)
	ActiveOfficers(ctx context.Context, city string) ([]ActiveOfficer, error)
}

// Service tracks officer shifts. Callers are expected to be officers already.
type Service struct {
	store store
	now   func() time.Time
}

func NewService(repo *Repository) *Service {
	return &Service{store: repo, now: util.Now}
}

// Current returns the officer's open shift, or ErrNoActiveShift.
func (s *Service) Current(ctx context.Context, actor auth.Actor) (Shift, error) {
	return s.store.CurrentShift(ctx, actor.ID)
}

// Start opens a shift starting at the current second. created is false when the
// officer already had one, which is returned unchanged.
func (s *Service) Start(ctx context.Context, actor auth.Actor) (Shift, bool, error) {
	shift, created, err := s.store.StartShift(ctx, actor.ID, s.now().Truncate(time.Second))
	if err != nil {
		return Shift{}, false, err
	}
	if created {
		metrics.ShiftsStartedTotal.Inc()
		log.Info().Str("component", "shifts").Str("officer_id", actor.ID.String()).Str("shift_id", shift.ID.String()).Msg("shift started")
	}
	return shift, created, nil
}

// End closes shiftID, or the current open shift when shiftID is nil.
func (s *Service) End(ctx context.Context, actor auth.Actor, shiftID *uuid.UUID) (Shift, int64, error) {
	shift, err := s.store.CloseShift(ctx, actor.ID, shiftID, s.now())
	if err != nil {
		return Shift{}, 0, err
	}
	var seconds int64
	if shift.EndTime != nil {
		seconds = int64(shift.EndTime.Sub(shift.StartTime) / time.Second)
	}
	log.Info().Str("component", "shifts").Str("officer_id", actor.ID.String()).Str("shift_id", shift.ID.String()).
		Int64("duration_seconds", seconds).Msg("shift ended")
	return shift, seconds, nil
}

func (s *Service) History(ctx context.Context, actor auth.Actor, limit int) ([]Shift, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.store.History(ctx, actor.ID, limit)
}

// ActiveOfficers lists officers on shift in city with their elapsed time.
func (s *Service) ActiveOfficers(ctx context.Context, city string) ([]ActiveOfficer, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return nil, ErrCityRequired
	}
	list, err := s.store.ActiveOfficers(ctx, city)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range list {
		list[i].ShiftDurationSeconds = int64(now.Sub(list[i].ShiftStart) / time.Second)
	}
	return list, nil
}
