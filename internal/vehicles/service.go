package vehicles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/alert"
	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/metrics"
	"github.com/tpsparking/api/internal/parkings"
	"github.com/tpsparking/api/internal/util"
)

type store interface {
	ListVehicles(ctx context.Context, userID uuid.UUID) ([]Vehicle, error)
	GetVehicle(ctx context.Context, id uuid.UUID) (Vehicle, error)
	FindVehicleByPlate(ctx context.Context, plate string) (Vehicle, error)
	CreateVehicle(ctx context.Context, userID uuid.UUID, in VehicleInput) (Vehicle, error)
	UpdateVehicle(ctx context.Context, v Vehicle) (Vehicle, error)
	DeleteVehicle(ctx context.Context, v Vehicle) (int, error)
	UserActive(ctx context.Context, userID uuid.UUID) (bool, error)
	ListSessions(ctx context.Context, userID uuid.UUID, active *bool) ([]Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	ActiveSessionsForVehicle(ctx context.Context, vehicleID uuid.UUID) ([]Session, error)
	StartSession(ctx context.Context, in NewSession) (Session, error)
	EndSession(ctx context.Context, id uuid.UUID, at time.Time) (Session, error)
}

type parkingSource interface {
	GetParking(ctx context.Context, id uuid.UUID) (parkings.Parking, error)
}

// Service owns the vehicle registry and the session lifecycle.
type Service struct {
	store    store
	parkings parkingSource
	loc      *time.Location
	notifier alert.Notifier
	now      func() time.Time
}

// NewService wires the Postgres repository. loc is the zone tariffs are quoted in.
func NewService(repo *Repository, parks *parkings.Service, loc *time.Location, notifier alert.Notifier) *Service {
	return newService(repo, parks, loc, notifier)
}

func newService(st store, parks parkingSource, loc *time.Location, notifier alert.Notifier) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: st, parkings: parks, loc: loc, notifier: notifier, now: util.Now}
}

func (s *Service) ListVehicles(ctx context.Context, actor auth.Actor) ([]Vehicle, error) {
	return s.store.ListVehicles(ctx, actor.ID)
}

// GetVehicle hides other drivers' vehicles behind ErrNotFound.
func (s *Service) GetVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID) (Vehicle, error) {
	v, err := s.store.GetVehicle(ctx, id)
	if err != nil {
		return Vehicle{}, err
	}
	if v.UserID != actor.ID {
		return Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (s *Service) CreateVehicle(ctx context.Context, actor auth.Actor, in VehicleInput) (Vehicle, error) {
	in.Plate = util.NormalizePlate(in.Plate)
	in.Name = strings.TrimSpace(in.Name)
	if in.Plate == "" {
		return Vehicle{}, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	v, err := s.store.CreateVehicle(ctx, actor.ID, in)
	if err != nil {
		return Vehicle{}, err
	}
	log.Info().Str("component", "vehicles").Str("vehicle_id", v.ID.String()).Str("user_id", actor.ID.String()).Msg("vehicle registered")
	return v, nil
}

func (s *Service) UpdateVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID, in VehicleUpdate) (Vehicle, error) {
	v, err := s.GetVehicle(ctx, actor, id)
	if err != nil {
		return Vehicle{}, err
	}
	if in.Plate != nil {
		if v.Plate = util.NormalizePlate(*in.Plate); v.Plate == "" {
			return Vehicle{}, fmt.Errorf("%w: plate is required", ErrInvalidInput)
		}
	}
	if in.Name != nil {
		v.Name = strings.TrimSpace(*in.Name)
	}
	if in.IsFavorite != nil {
		v.IsFavorite = *in.IsFavorite
	}
	return s.store.UpdateVehicle(ctx, v)
}

// DeleteVehicle drops the vehicle and its fines, then recounts the owner's violations.
func (s *Service) DeleteVehicle(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	v, err := s.GetVehicle(ctx, actor, id)
	if err != nil {
		return err
	}
	count, err := s.store.DeleteVehicle(ctx, v)
	if err != nil {
		return err
	}
	log.Info().Str("component", "vehicles").Str("vehicle_id", v.ID.String()).Str("user_id", actor.ID.String()).
		Int("violations", count).Msg("vehicle deleted")
	return nil
}

func (s *Service) ListSessions(ctx context.Context, actor auth.Actor, active *bool) ([]Session, error) {
	return s.store.ListSessions(ctx, actor.ID, active)
}

func (s *Service) GetSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != actor.ID {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

// StartSession opens a session for one of the caller's vehicles. When DurationMinutes
// is set the stay is priced with the parking's tariff and stored as prepaid_cost.
func (s *Service) StartSession(ctx context.Context, actor auth.Actor, in StartInput) (Session, error) {
	v, err := s.store.GetVehicle(ctx, in.VehicleID)
	if err != nil {
		return Session{}, err
	}
	if v.UserID != actor.ID {
		return Session{}, ErrVehicleNotOwned
	}
	active, err := s.store.UserActive(ctx, actor.ID)
	if err != nil {
		return Session{}, err
	}
	if !active {
		return Session{}, ErrAccountInactive
	}
	lot, err := s.parkings.GetParking(ctx, in.ParkingID)
	if errors.Is(err, parkings.ErrNotFound) {
		return Session{}, ErrParkingNotFound
	}
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	params := NewSession{
		UserID:             actor.ID,
		VehicleID:          v.ID,
		ParkingID:          lot.ID,
		StartTime:          now,
		GracePeriodMinutes: DefaultGracePeriodMinutes,
	}
	if in.DurationMinutes != nil {
		minutes := *in.DurationMinutes
		if minutes <= 0 || minutes > MaxPurchaseMinutes {
			return Session{}, fmt.Errorf("%w: duration_minutes out of range", ErrInvalidInput)
		}
		d := time.Duration(minutes) * time.Minute
		end := now.Add(d)
		params.DurationMinutes = &minutes
		params.PlannedEndTime = &end
		params.PrepaidCost = lot.Tariff.Quote(now.In(s.loc), d)
	}

	sess, err := s.store.StartSession(ctx, params)
	if errors.Is(err, ErrActiveSession) {
		metrics.SessionConflictsTotal.Inc()
		return Session{}, err
	}
	if err != nil {
		return Session{}, err
	}
	metrics.SessionsStartedTotal.Inc()
	log.Info().Str("component", "vehicles").Str("session_id", sess.ID.String()).Str("vehicle_id", v.ID.String()).
		Str("parking_id", lot.ID.String()).Float64("prepaid_cost", sess.PrepaidCost).Msg("session started")
	return sess, nil
}

// EndSession closes the caller's active session.
func (s *Service) EndSession(ctx context.Context, actor auth.Actor, id uuid.UUID) (Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != actor.ID {
		return Session{}, ErrSessionNotOwned
	}
	if !sess.IsActive {
		return Session{}, ErrSessionCompleted
	}
	ended, err := s.store.EndSession(ctx, id, s.now())
	if err != nil {
		return Session{}, err
	}
	metrics.SessionsEndedTotal.Inc()
	log.Info().Str("component", "vehicles").Str("session_id", id.String()).Msg("session ended")
	return ended, nil
}

// SearchByPlate finds the single active session of a plate for an officer.
// More than one active session is reported, never resolved.
func (s *Service) SearchByPlate(ctx context.Context, plate string) (ControllerSession, error) {
	plate = util.NormalizePlate(plate)
	if plate == "" {
		return ControllerSession{}, fmt.Errorf("%w: plate parameter is required", ErrInvalidInput)
	}
	v, err := s.store.FindVehicleByPlate(ctx, plate)
	if errors.Is(err, ErrNotFound) {
		return ControllerSession{}, ErrVehicleNotFound
	}
	if err != nil {
		return ControllerSession{}, err
	}

	sessions, err := s.store.ActiveSessionsForVehicle(ctx, v.ID)
	if err != nil {
		return ControllerSession{}, err
	}
	switch len(sessions) {
	case 0:
		return ControllerSession{}, ErrNoActiveSession
	case 1:
		return controllerView(sessions[0], s.now()), nil
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID.String()
	}
	log.Error().Str("component", "vehicles").Str("vehicle_id", v.ID.String()).Str("plate", v.Plate).
		Strs("session_ids", ids).Msg("multiple active sessions for one vehicle")
	alert.Consistency(s.notifier, "multiple_active_sessions",
		fmt.Sprintf("vehicle %s has %d active sessions", v.Plate, len(sessions)),
		map[string]string{"vehicle_id": v.ID.String(), "plate": v.Plate, "session_ids": strings.Join(ids, ", ")})
	return ControllerSession{}, ErrMultipleActive
}
