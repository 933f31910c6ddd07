package vehicles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db/dbtest"
	"github.com/tpsparking/api/internal/repo"
)

func TestRepositoryOneActiveSessionUnderContention(t *testing.T) {
	pool := dbtest.New(t)
	ctx := context.Background()
	repository := NewRepository(pool)

	owner := dbtest.CreateUser(t, pool, auth.RoleUser)
	var parkingID uuid.UUID
	if err := pool.QueryRow(ctx,
		`INSERT INTO parkings (name, city, tariff_config) VALUES ('Central', 'Haifa', '{}'::jsonb) RETURNING id`,
	).Scan(&parkingID); err != nil {
		t.Fatalf("seed parking: %v", err)
	}
	vehicle, err := repository.CreateVehicle(ctx, owner.ID, VehicleInput{Plate: "AB123CD"})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}

	if _, err := repository.CreateVehicle(ctx, dbtest.CreateUser(t, pool, auth.RoleUser).ID, VehicleInput{Plate: "AB123CD"}); !errors.Is(err, ErrDuplicatePlate) {
		t.Fatalf("expected duplicate plate, got %v", err)
	}

	start := func() error {
		_, err := repository.StartSession(ctx, NewSession{
			UserID:             owner.ID,
			VehicleID:          vehicle.ID,
			ParkingID:          parkingID,
			StartTime:          time.Now().UTC(),
			GracePeriodMinutes: DefaultGracePeriodMinutes,
		})
		return err
	}

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := start()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrActiveSession):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 start and %d conflicts, got %d and %d", workers-1, ok, conflicts)
	}

	active, err := repository.ActiveSessionsForVehicle(ctx, vehicle.ID)
	if err != nil || len(active) != 1 {
		t.Fatalf("active sessions: %v %d", err, len(active))
	}

	if _, err := repository.EndSession(ctx, active[0].ID, time.Now().UTC()); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := repository.EndSession(ctx, active[0].ID, time.Now().UTC()); !errors.Is(err, ErrSessionCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if err := start(); err != nil {
		t.Fatalf("restart after end: %v", err)
	}
}

func TestRepositoryDeleteVehicleUnblocksOwner(t *testing.T) {
	pool := dbtest.New(t)
	ctx := context.Background()
	repository := NewRepository(pool)

	owner := dbtest.CreateUser(t, pool, auth.RoleUser)
	fined, err := repository.CreateVehicle(ctx, owner.ID, VehicleInput{Plate: "AB123CD"})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}
	spare, err := repository.CreateVehicle(ctx, owner.ID, VehicleInput{Plate: "XY987ZT"})
	if err != nil {
		t.Fatalf("create vehicle: %v", err)
	}

	seed := func(vehicleID uuid.UUID, status string) {
		t.Helper()
		if _, err := pool.Exec(ctx,
			`INSERT INTO fines (vehicle_id, amount, reason, status) VALUES ($1, 100, 'No Active Session', $2)`,
			vehicleID, status); err != nil {
			t.Fatalf("seed fine: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		seed(fined.ID, "unpaid")
	}
	seed(spare.ID, "disputed")
	seed(spare.ID, "paid")

	users := repo.New(pool)
	if err := users.SetViolationState(ctx, owner.ID, 4); err != nil {
		t.Fatalf("block owner: %v", err)
	}

	count, err := repository.DeleteVehicle(ctx, fined)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 outstanding fine left, got %d", count)
	}

	u, err := users.GetUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if u.ViolationsCount != 1 || !u.IsActive {
		t.Fatalf("expected 1 violation and active, got %d active=%v", u.ViolationsCount, u.IsActive)
	}

	if _, err := repository.DeleteVehicle(ctx, fined); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected not found, got %v", err)
	}
}
