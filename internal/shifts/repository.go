package shifts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists shifts in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const shiftColumns = `id, officer_id, start_time, end_time, status`

func scanShift(row pgx.Row) (Shift, error) {
	var s Shift
	err := row.Scan(&s.ID, &s.OfficerID, &s.StartTime, &s.EndTime, &s.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shift{}, ErrNoActiveShift
	}
	return s, err
}

func (r *Repository) CurrentShift(ctx context.Context, officerID uuid.UUID) (Shift, error) {
	return scanShift(r.pool.QueryRow(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE officer_id = $1 AND status = 'OPEN'
		ORDER BY start_time DESC LIMIT 1`, officerID))
}

// StartShift inserts an OPEN shift unless one exists. The partial unique index
// shifts_one_open_per_officer decides races; the loser reads the winner's row.
func (r *Repository) StartShift(ctx context.Context, officerID uuid.UUID, start time.Time) (Shift, bool, error) {
	s, err := scanShift(r.pool.QueryRow(ctx, `
		INSERT INTO shifts (officer_id, start_time, status)
		VALUES ($1, $2, 'OPEN')
		ON CONFLICT (officer_id) WHERE status = 'OPEN' DO NOTHING
		RETURNING `+shiftColumns, officerID, start))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, ErrNoActiveShift) {
		return Shift{}, false, err
	}
	s, err = r.CurrentShift(ctx, officerID)
	return s, false, err
}

// CloseShift ends an OPEN shift of officerID. A nil id picks the current one.
func (r *Repository) CloseShift(ctx context.Context, officerID uuid.UUID, id *uuid.UUID, end time.Time) (Shift, error) {
	return scanShift(r.pool.QueryRow(ctx, `
		UPDATE shifts SET status = 'CLOSED', end_time = $3
		WHERE officer_id = $1 AND status = 'OPEN' AND ($2::uuid IS NULL OR id = $2)
		RETURNING `+shiftColumns, officerID, id, end))
}

func (r *Repository) History(ctx context.Context, officerID uuid.UUID, limit int) ([]Shift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shiftColumns+` FROM shifts
		WHERE officer_id = $1
		ORDER BY start_time DESC
		LIMIT $2`, officerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Shift{}
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ActiveOfficers lists officers on an OPEN shift who may work in city.
func (r *Repository) ActiveOfficers(ctx context.Context, city string) ([]ActiveOfficer, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.id, u.email, u.first_name, u.last_name, u.role, s.id, s.start_time
		FROM shifts s
		JOIN users u ON u.id = s.officer_id
		WHERE s.status = 'OPEN'
		  AND (u.role = 'superuser'
		       OR EXISTS (SELECT 1 FROM unnest(u.allowed_cities) c WHERE lower(c) = lower($1)))
		ORDER BY s.start_time`, city)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []ActiveOfficer{}
	for rows.Next() {
		var o ActiveOfficer
		if err := rows.Scan(&o.ID, &o.Email, &o.FirstName, &o.LastName, &o.Role, &o.ShiftID, &o.ShiftStart); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
