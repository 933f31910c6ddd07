package fines

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tpsparking/api/internal/db"
	"github.com/tpsparking/api/internal/repo"
)

// Repository persists fines. Writes go through InTx so the owner row lock, the fine
// write and the recount share one transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const fineSelect = `
	SELECT f.id, f.vehicle_id, v.plate, v.name, v.user_id, f.session_id, f.issued_by,
	       f.amount::float8, f.reason, f.status, f.issued_at, f.paid_at, f.notes,
	       f.evidence_image_url, f.contestation_reason
	FROM fines f
	JOIN vehicles v ON v.id = f.vehicle_id`

func scanFine(row pgx.Row) (Fine, error) {
	var f Fine
	err := row.Scan(&f.ID, &f.VehicleID, &f.VehiclePlate, &f.VehicleName, &f.OwnerID, &f.SessionID, &f.IssuedBy,
		&f.Amount, &f.Reason, &f.Status, &f.IssuedAt, &f.PaidAt, &f.Notes,
		&f.EvidenceImageURL, &f.ContestationReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return Fine{}, ErrNotFound
	}
	return f, err
}

func (r *Repository) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Fine, error) {
	rows, err := r.pool.Query(ctx, fineSelect+` WHERE v.user_id = $1 ORDER BY f.issued_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Fine{}
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}

func (r *Repository) GetFine(ctx context.Context, id uuid.UUID) (Fine, error) {
	return scanFine(r.pool.QueryRow(ctx, fineSelect+` WHERE f.id = $1`, id))
}

func (r *Repository) FindVehicleByPlate(ctx context.Context, plate string) (VehicleOwner, error) {
	var v VehicleOwner
	err := r.pool.QueryRow(ctx, `SELECT id, plate, user_id FROM vehicles WHERE plate = upper($1)`, plate).
		Scan(&v.ID, &v.Plate, &v.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return VehicleOwner{}, ErrVehicleNotFound
	}
	return v, err
}

func (r *Repository) ActiveSessionID(ctx context.Context, vehicleID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM parking_sessions WHERE vehicle_id = $1 AND is_active ORDER BY start_time DESC LIMIT 1`,
		vehicleID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx txStore) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, users: repo.New(tx)})
	})
}

type txRepository struct {
	tx    pgx.Tx
	users *repo.Queries
}

func (t *txRepository) LockOwner(ctx context.Context, userID uuid.UUID) error {
	_, err := t.users.LockUser(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (t *txRepository) GetFine(ctx context.Context, id uuid.UUID) (Fine, error) {
	return scanFine(t.tx.QueryRow(ctx, fineSelect+` WHERE f.id = $1 FOR UPDATE OF f`, id))
}

func (t *txRepository) InsertFine(ctx context.Context, in NewFine) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO fines (vehicle_id, session_id, issued_by, amount, reason, status, notes,
			evidence_image_url, evidence_object_key)
		VALUES ($1, $2, $3, $4, $5, 'unpaid', $6, $7, $8)
		RETURNING id`,
		in.VehicleID, in.SessionID, in.IssuedBy, in.Amount, in.Reason, in.Notes,
		in.EvidenceURL, in.EvidenceObjectKey).Scan(&id)
	return id, err
}

func (t *txRepository) UpdateFine(ctx context.Context, id uuid.UUID, change StatusChange) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE fines SET
			status = $2,
			paid_at = COALESCE($3, paid_at),
			contestation_reason = COALESCE($4, contestation_reason),
			notes = COALESCE($5, notes)
		WHERE id = $1`,
		id, string(change.Status), change.PaidAt, change.ContestationReason, change.Notes)
	return err
}

func (t *txRepository) DeleteFine(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM fines WHERE id = $1`, id)
	return err
}

func (t *txRepository) Recount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	return t.users.RecountViolations(ctx, ownerID)
}

func (t *txRepository) SetViolationState(ctx context.Context, ownerID uuid.UUID, count int) error {
	return t.users.SetViolationState(ctx, ownerID, count)
}
