package fines

import (
	"context"
	"sync"
	"testing"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db/dbtest"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/storage"
)

func TestRepositoryConcurrentReportsBlockOwner(t *testing.T) {
	pool := dbtest.New(t)
	ctx := context.Background()
	svc := NewService(NewRepository(pool), storage.NoopUploader{})

	owner := dbtest.CreateUser(t, pool, auth.RoleUser)
	officer := dbtest.CreateUser(t, pool, auth.RoleController, "Haifa")
	if _, err := pool.Exec(ctx, `INSERT INTO vehicles (user_id, plate) VALUES ($1, 'AB123CD')`, owner.ID); err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	actor := auth.Actor{ID: officer.ID, Role: officer.Role, AllowedCities: officer.AllowedCities}
	const reports = 5
	var wg sync.WaitGroup
	results := make(chan ReportResult, reports)
	for i := 0; i < reports; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Report(ctx, actor, ReportInput{Plate: "ab123cd", Reason: "No Active Session"})
			if err != nil {
				t.Errorf("report: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for res := range results {
		seen[res.NewViolationCount] = true
	}
	for i := 1; i <= reports; i++ {
		if !seen[i] {
			t.Fatalf("count %d never observed: %v", i, seen)
		}
	}

	u, err := repo.New(pool).GetUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("load owner: %v", err)
	}
	if u.ViolationsCount != reports || u.IsActive {
		t.Fatalf("expected %d violations and inactive, got %d active=%v", reports, u.ViolationsCount, u.IsActive)
	}

	fines, err := svc.ListMine(ctx, auth.Actor{ID: owner.ID, Role: auth.RoleUser})
	if err != nil || len(fines) != reports {
		t.Fatalf("list: %v %d", err, len(fines))
	}
	ownerActor := auth.Actor{ID: owner.ID, Role: auth.RoleUser}
	for _, f := range fines[:3] {
		if _, err := svc.Pay(ctx, ownerActor, f.ID); err != nil {
			t.Fatalf("pay: %v", err)
		}
	}

	u, err = repo.New(pool).GetUserByID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("reload owner: %v", err)
	}
	if u.ViolationsCount != 2 || !u.IsActive {
		t.Fatalf("expected 2 violations and active, got %d active=%v", u.ViolationsCount, u.IsActive)
	}
}
