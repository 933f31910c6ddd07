package vehicles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tpsparking/api/internal/db"
	"github.com/tpsparking/api/internal/repo"
)

const (
	plateConstraint  = "vehicles_plate_key"
	activeConstraint = "parking_sessions_one_active_per_vehicle"
)

// Repository persists vehicles and sessions in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const vehicleColumns = `id, user_id, plate, name, is_favorite, created_at`

func scanVehicle(row pgx.Row) (Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.UserID, &v.Plate, &v.Name, &v.IsFavorite, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Vehicle{}, ErrNotFound
	}
	return v, err
}

func (r *Repository) ListVehicles(ctx context.Context, userID uuid.UUID) ([]Vehicle, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 ORDER BY plate`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

func (r *Repository) GetVehicle(ctx context.Context, id uuid.UUID) (Vehicle, error) {
	return scanVehicle(r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
}

func (r *Repository) FindVehicleByPlate(ctx context.Context, plate string) (Vehicle, error) {
	return scanVehicle(r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE plate = upper($1)`, plate))
}

func (r *Repository) CreateVehicle(ctx context.Context, userID uuid.UUID, in VehicleInput) (Vehicle, error) {
	v, err := scanVehicle(r.pool.QueryRow(ctx, `
		INSERT INTO vehicles (user_id, plate, name, is_favorite)
		VALUES ($1, $2, $3, $4)
		RETURNING `+vehicleColumns, userID, in.Plate, in.Name, in.IsFavorite))
	if db.IsUniqueViolation(err, plateConstraint) {
		return Vehicle{}, ErrDuplicatePlate
	}
	return v, err
}

func (r *Repository) UpdateVehicle(ctx context.Context, v Vehicle) (Vehicle, error) {
	out, err := scanVehicle(r.pool.QueryRow(ctx, `
		UPDATE vehicles SET plate = $2, name = $3, is_favorite = $4
		WHERE id = $1
		RETURNING `+vehicleColumns, v.ID, v.Plate, v.Name, v.IsFavorite))
	if db.IsUniqueViolation(err, plateConstraint) {
		return Vehicle{}, ErrDuplicatePlate
	}
	return out, err
}

// DeleteVehicle removes the vehicle with its sessions and fines. The owner row is locked
// and the violation count rewritten in the same transaction, since the cascade drops fines.
func (r *Repository) DeleteVehicle(ctx context.Context, v Vehicle) (int, error) {
	var count int
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		users := repo.New(tx)
		if _, err := users.LockUser(ctx, v.UserID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM vehicles WHERE id = $1 AND user_id = $2`, v.ID, v.UserID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if count, err = users.RecountViolations(ctx, v.UserID); err != nil {
			return fmt.Errorf("recount violations: %w", err)
		}
		return users.SetViolationState(ctx, v.UserID, count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) UserActive(ctx context.Context, userID uuid.UUID) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, userID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

const sessionSelect = `
	SELECT s.id, s.user_id, v.id, v.plate, v.name,
	       p.id, p.name, p.city, p.address,
	       s.start_time, s.end_time, s.is_active, s.total_cost::float8,
	       s.duration_purchased_minutes, s.planned_end_time, s.prepaid_cost::float8, s.grace_period_minutes
	FROM parking_sessions s
	JOIN vehicles v ON v.id = s.vehicle_id
	LEFT JOIN parkings p ON p.id = s.parking_id`

func scanSession(row pgx.Row) (Session, error) {
	var (
		s                          Session
		parkID                     *uuid.UUID
		parkName, parkCity, parkAd *string
		duration                   *int32
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Vehicle.ID, &s.Vehicle.Plate, &s.Vehicle.Name,
		&parkID, &parkName, &parkCity, &parkAd,
		&s.StartTime, &s.EndTime, &s.IsActive, &s.TotalCost,
		&duration, &s.PlannedEndTime, &s.PrepaidCost, &s.GracePeriodMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if parkID != nil {
		s.Parking = &ParkingRef{ID: *parkID, Name: deref(parkName), City: deref(parkCity), Address: deref(parkAd)}
	}
	if duration != nil {
		d := int(*duration)
		s.DurationPurchasedMinutes = &d
	}
	return s, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	list := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *Repository) ListSessions(ctx context.Context, userID uuid.UUID, active *bool) ([]Session, error) {
	query := sessionSelect + ` WHERE s.user_id = $1`
	args := []any{userID}
	if active != nil {
		query += ` AND s.is_active = $2`
		args = append(args, *active)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY s.start_time DESC`, args...)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	return scanSession(r.pool.QueryRow(ctx, sessionSelect+` WHERE s.id = $1`, id))
}

func (r *Repository) ActiveSessionsForVehicle(ctx context.Context, vehicleID uuid.UUID) ([]Session, error) {
	rows, err := r.pool.Query(ctx, sessionSelect+` WHERE s.vehicle_id = $1 AND s.is_active ORDER BY s.start_time`, vehicleID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// StartSession locks the vehicle row, refuses a second active session and inserts.
// The partial unique index catches anything that slips past the lock.
func (r *Repository) StartSession(ctx context.Context, in NewSession) (Session, error) {
	var id uuid.UUID
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM vehicles WHERE id = $1 FOR UPDATE`, in.VehicleID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM parking_sessions WHERE vehicle_id = $1 AND is_active)`,
			in.VehicleID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrActiveSession
		}

		return tx.QueryRow(ctx, `
			INSERT INTO parking_sessions (user_id, vehicle_id, parking_id, start_time, is_active,
				duration_purchased_minutes, planned_end_time, prepaid_cost, grace_period_minutes)
			VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7, $8)
			RETURNING id`,
			in.UserID, in.VehicleID, in.ParkingID, in.StartTime,
			in.DurationMinutes, in.PlannedEndTime, in.PrepaidCost, in.GracePeriodMinutes,
		).Scan(&id)
	})
	if db.IsUniqueViolation(err, activeConstraint) {
		return Session{}, ErrActiveSession
	}
	if err != nil {
		return Session{}, err
	}
	return r.GetSession(ctx, id)
}

// EndSession closes an active session and bills the prepaid amount.
func (r *Repository) EndSession(ctx context.Context, id uuid.UUID, at time.Time) (Session, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE parking_sessions
		SET is_active = FALSE, end_time = $2, total_cost = prepaid_cost
		WHERE id = $1 AND is_active`, id, at)
	if err != nil {
		return Session{}, err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return Session{}, err
		}
		return Session{}, ErrSessionCompleted
	}
	return r.GetSession(ctx, id)
}
