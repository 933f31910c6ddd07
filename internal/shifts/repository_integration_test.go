package shifts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/db/dbtest"
)

func TestRepositoryStartShiftRace(t *testing.T) {
	pool := dbtest.New(t)
	ctx := context.Background()
	repository := NewRepository(pool)
	officer := dbtest.CreateUser(t, pool, auth.RoleController, "Haifa")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[uuid.UUID]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, ok, err := repository.StartShift(ctx, officer.ID, time.Now().UTC().Truncate(time.Second))
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[s.ID] = true
		}()
	}
	wg.Wait()

	if created != 1 || len(ids) != 1 {
		t.Fatalf("expected one shift, created=%d ids=%d", created, len(ids))
	}

	officers, err := repository.ActiveOfficers(ctx, "haifa")
	if err != nil || len(officers) != 1 {
		t.Fatalf("active officers: %v %d", err, len(officers))
	}

	if _, err := repository.CloseShift(ctx, officer.ID, nil, time.Now().UTC()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := repository.CurrentShift(ctx, officer.ID); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected no active shift, got %v", err)
	}
}
