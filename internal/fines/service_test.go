package fines

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/storage"
)

type userState struct {
	violations int
	active     bool
}

// memStore commits a transaction only when fn succeeds; otherwise its changes are dropped.
type memStore struct {
	mu       sync.Mutex
	vehicles map[string]VehicleOwner
	sessions map[uuid.UUID]uuid.UUID
	fines    map[uuid.UUID]Fine
	users    map[uuid.UUID]userState
	locks    int
}

func newMemStore() *memStore {
	return &memStore{
		vehicles: map[string]VehicleOwner{},
		sessions: map[uuid.UUID]uuid.UUID{},
		fines:    map[uuid.UUID]Fine{},
		users:    map[uuid.UUID]userState{},
	}
}

func (m *memStore) addVehicle(plate string, owner uuid.UUID) VehicleOwner {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := VehicleOwner{ID: uuid.New(), Plate: plate, OwnerID: owner}
	m.vehicles[plate] = v
	m.users[owner] = userState{active: true}
	return v
}

func (m *memStore) ListForOwner(ctx context.Context, ownerID uuid.UUID) ([]Fine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fine
	for _, f := range m.fines {
		if f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) GetFine(ctx context.Context, id uuid.UUID) (Fine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fines[id]
	if !ok {
		return Fine{}, ErrNotFound
	}
	return f, nil
}

func (m *memStore) FindVehicleByPlate(ctx context.Context, plate string) (VehicleOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[plate]
	if !ok {
		return VehicleOwner{}, ErrVehicleNotFound
	}
	return v, nil
}

func (m *memStore) ActiveSessionID(ctx context.Context, vehicleID uuid.UUID) (*uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.sessions[vehicleID]; ok {
		return &id, nil
	}
	return nil, nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx txStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, fines: map[uuid.UUID]Fine{}, users: map[uuid.UUID]userState{}}
	for k, v := range m.fines {
		tx.fines[k] = v
	}
	for k, v := range m.users {
		tx.users[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.fines, m.users = tx.fines, tx.users
	return nil
}

type memTx struct {
	m     *memStore
	fines map[uuid.UUID]Fine
	users map[uuid.UUID]userState
}

func (t *memTx) LockOwner(ctx context.Context, userID uuid.UUID) error {
	if _, ok := t.users[userID]; !ok {
		return ErrNotFound
	}
	t.m.locks++
	return nil
}

func (t *memTx) GetFine(ctx context.Context, id uuid.UUID) (Fine, error) {
	f, ok := t.fines[id]
	if !ok {
		return Fine{}, ErrNotFound
	}
	return f, nil
}

func (t *memTx) InsertFine(ctx context.Context, in NewFine) (uuid.UUID, error) {
	var owner VehicleOwner
	for _, v := range t.m.vehicles {
		if v.ID == in.VehicleID {
			owner = v
		}
	}
	f := Fine{
		ID: uuid.New(), VehicleID: in.VehicleID, VehiclePlate: owner.Plate, OwnerID: owner.OwnerID,
		SessionID: in.SessionID, IssuedBy: &in.IssuedBy, Amount: in.Amount, Reason: in.Reason,
		Status: StatusUnpaid, IssuedAt: time.Now(), Notes: in.Notes, EvidenceImageURL: in.EvidenceURL,
	}
	t.fines[f.ID] = f
	return f.ID, nil
}

func (t *memTx) UpdateFine(ctx context.Context, id uuid.UUID, change StatusChange) error {
	f := t.fines[id]
	f.Status = change.Status
	if change.PaidAt != nil {
		f.PaidAt = change.PaidAt
	}
	if change.ContestationReason != nil {
		f.ContestationReason = change.ContestationReason
	}
	if change.Notes != nil {
		f.Notes = *change.Notes
	}
	t.fines[id] = f
	return nil
}

func (t *memTx) DeleteFine(ctx context.Context, id uuid.UUID) error {
	delete(t.fines, id)
	return nil
}

func (t *memTx) Recount(ctx context.Context, ownerID uuid.UUID) (int, error) {
	n := 0
	for _, f := range t.fines {
		if f.OwnerID == ownerID && f.Status.Outstanding() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) SetViolationState(ctx context.Context, ownerID uuid.UUID, count int) error {
	t.users[ownerID] = userState{violations: count, active: count < repo.BlockThreshold}
	return nil
}

type recordingUploader struct {
	keys    []string
	deleted []string
	err     error
}

func (u *recordingUploader) Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadResult, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.keys = append(u.keys, in.Key)
	return &storage.UploadResult{Key: in.Key, URL: "https://cdn.example.com/" + in.Key}, nil
}

func (u *recordingUploader) Delete(ctx context.Context, key string) error {
	u.deleted = append(u.deleted, key)
	return nil
}

var (
	controller = auth.Actor{ID: uuid.New(), Role: auth.RoleController, AllowedCities: []string{"Haifa"}}
	managerA   = auth.Actor{ID: uuid.New(), Role: auth.RoleManager, AllowedCities: []string{"Haifa"}}
	superuser  = auth.Actor{ID: uuid.New(), Role: auth.RoleSuperuser}
)

func report(t *testing.T, svc *Service, plate, reason string) ReportResult {
	t.Helper()
	res, err := svc.Report(context.Background(), controller, ReportInput{Plate: plate, Reason: reason})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	return res
}

func TestReportUsesPriceTableAndBlocksOnThird(t *testing.T) {
	st := newMemStore()
	owner := uuid.New()
	st.addVehicle("AB123CD", owner)
	svc := newService(st, nil)

	res := report(t, svc, "ab123cd", "Obstructing Parking")
	if res.Amount != 85 || res.Plate != "AB123CD" || res.NewViolationCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	report(t, svc, "AB123CD", "No Active Session")
	if !st.users[owner].active {
		t.Fatal("two violations must not block")
	}
	res = report(t, svc, "AB123CD", "Handicapped Zone Violation")
	if res.NewViolationCount != 3 || st.users[owner].active {
		t.Fatalf("third violation must block, got %+v state=%+v", res, st.users[owner])
	}
	if st.locks != 3 {
		t.Fatalf("every report must lock the owner, got %d locks", st.locks)
	}
}

func TestReportRejections(t *testing.T) {
	st := newMemStore()
	st.addVehicle("AB123CD", uuid.New())
	svc := newService(st, nil)
	ctx := context.Background()

	driver := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	if _, err := svc.Report(ctx, driver, ReportInput{Plate: "AB123CD", Reason: "No Active Session"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("drivers cannot report, got %v", err)
	}
	if _, err := svc.Report(ctx, controller, ReportInput{Plate: "AB123CD", Reason: "Speeding"}); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected invalid reason, got %v", err)
	}
	if _, err := svc.Report(ctx, controller, ReportInput{Reason: "No Active Session"}); !errors.Is(err, ErrPlateReasonRequired) {
		t.Fatalf("expected plate required, got %v", err)
	}
	if _, err := svc.Report(ctx, controller, ReportInput{Plate: "ZZ000", Reason: "No Active Session"}); !errors.Is(err, ErrVehicleNotFound) {
		t.Fatalf("expected vehicle not found, got %v", err)
	}
}

func TestReportLinksActiveSessionAndEvidence(t *testing.T) {
	st := newMemStore()
	v := st.addVehicle("AB123CD", uuid.New())
	sessionID := uuid.New()
	st.sessions[v.ID] = sessionID
	up := &recordingUploader{}
	svc := newService(st, up)

	res, err := svc.Report(context.Background(), controller, ReportInput{
		Plate:    "AB123CD",
		Reason:   "No Active Session",
		Evidence: &Evidence{Filename: "my photo.JPG", ContentType: "image/jpeg", Body: []byte{0xff, 0xd8}},
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	f := st.fines[res.FineID]
	if f.SessionID == nil || *f.SessionID != sessionID {
		t.Fatalf("fine not linked to active session: %+v", f.SessionID)
	}
	if len(up.keys) != 1 || f.EvidenceImageURL == nil {
		t.Fatalf("evidence not stored: keys=%v url=%v", up.keys, f.EvidenceImageURL)
	}
}

func TestReportSurvivesUploadFailure(t *testing.T) {
	st := newMemStore()
	st.addVehicle("AB123CD", uuid.New())
	svc := newService(st, &recordingUploader{err: errors.New("bucket unreachable")})

	res, err := svc.Report(context.Background(), controller, ReportInput{
		Plate: "AB123CD", Reason: "No Active Session",
		Evidence: &Evidence{Filename: "x.png", Body: []byte("png")},
	})
	if err != nil {
		t.Fatalf("report must not fail on upload error: %v", err)
	}
	if st.fines[res.FineID].EvidenceImageURL != nil {
		t.Fatal("no evidence url expected")
	}
}

func TestReportRemovesEvidenceWhenOwnerIsGone(t *testing.T) {
	st := newMemStore()
	v := st.addVehicle("AB123CD", uuid.New())
	delete(st.users, v.OwnerID)
	up := &recordingUploader{}
	svc := newService(st, up)

	_, err := svc.Report(context.Background(), controller, ReportInput{
		Plate: "AB123CD", Reason: "No Active Session",
		Evidence: &Evidence{Filename: "x.jpg", Body: []byte{0xff, 0xd8}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(up.keys) != 1 || len(up.deleted) != 1 || up.deleted[0] != up.keys[0] {
		t.Fatalf("uploaded object not removed: keys=%v deleted=%v", up.keys, up.deleted)
	}
	if len(st.fines) != 0 {
		t.Fatalf("no fine expected, got %d", len(st.fines))
	}
}

func TestPayUnblocksAndRejectsRepeat(t *testing.T) {
	st := newMemStore()
	owner := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	st.addVehicle("AB123CD", owner.ID)
	svc := newService(st, nil)

	var last ReportResult
	for i := 0; i < 3; i++ {
		last = report(t, svc, "AB123CD", "No Active Session")
	}
	if st.users[owner.ID].active {
		t.Fatal("owner should be blocked")
	}

	count, err := svc.Pay(context.Background(), owner, last.FineID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if count != 2 || !st.users[owner.ID].active {
		t.Fatalf("paying must unblock, count=%d state=%+v", count, st.users[owner.ID])
	}
	if st.fines[last.FineID].PaidAt == nil {
		t.Fatal("paid_at not set")
	}
	if _, err := svc.Pay(context.Background(), owner, last.FineID); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected already paid, got %v", err)
	}

	stranger := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	if _, err := svc.Pay(context.Background(), stranger, last.FineID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign fine must look missing, got %v", err)
	}
}

func TestContestKeepsCountingAndReview(t *testing.T) {
	st := newMemStore()
	owner := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	st.addVehicle("AB123CD", owner.ID)
	svc := newService(st, nil)
	ctx := context.Background()

	res := report(t, svc, "AB123CD", "Obstructing Parking")
	if err := svc.Contest(ctx, owner, res.FineID, "  "); !errors.Is(err, ErrContestReasonMissing) {
		t.Fatalf("expected reason required, got %v", err)
	}
	if err := svc.Contest(ctx, owner, res.FineID, "I had a ticket"); err != nil {
		t.Fatalf("contest: %v", err)
	}
	if st.users[owner.ID].violations != 1 {
		t.Fatalf("disputed fine must still count, got %d", st.users[owner.ID].violations)
	}
	if err := svc.Contest(ctx, owner, res.FineID, "again"); !errors.Is(err, ErrNotContestable) {
		t.Fatalf("expected not contestable, got %v", err)
	}

	if _, err := svc.Review(ctx, controller, res.FineID, StatusCancelled, nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("controllers cannot review, got %v", err)
	}
	note := "ticket verified"
	f, err := svc.Review(ctx, managerA, res.FineID, StatusCancelled, &note)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if f.Status != StatusCancelled || f.Notes != note || st.users[owner.ID].violations != 0 {
		t.Fatalf("unexpected state %+v violations=%d", f, st.users[owner.ID].violations)
	}
	if _, err := svc.Review(ctx, managerA, res.FineID, StatusUnpaid, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled fines are final, got %v", err)
	}
	if _, err := svc.Pay(ctx, owner, res.FineID); !errors.Is(err, ErrNotPayable) {
		t.Fatalf("cancelled fine cannot be paid, got %v", err)
	}
}

func TestDeleteRecounts(t *testing.T) {
	st := newMemStore()
	owner := uuid.New()
	st.addVehicle("AB123CD", owner)
	svc := newService(st, nil)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, report(t, svc, "AB123CD", "No Active Session").FineID)
	}
	if err := svc.Delete(ctx, managerA, ids[0]); !errors.Is(err, ErrForbidden) {
		t.Fatalf("only superusers delete, got %v", err)
	}
	if err := svc.Delete(ctx, superuser, ids[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if st.users[owner].violations != 2 || !st.users[owner].active {
		t.Fatalf("delete must recount, got %+v", st.users[owner])
	}
}

func TestFailedMutationRollsBack(t *testing.T) {
	st := newMemStore()
	owner := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	st.addVehicle("AB123CD", owner.ID)
	svc := newService(st, nil)

	res := report(t, svc, "AB123CD", "No Active Session")
	if _, err := svc.Pay(context.Background(), owner, res.FineID); err != nil {
		t.Fatalf("pay: %v", err)
	}
	before := st.users[owner.ID]
	if _, err := svc.Pay(context.Background(), owner, res.FineID); err == nil {
		t.Fatal("second pay must fail")
	}
	if st.users[owner.ID] != before {
		t.Fatalf("state changed by failed mutation: %+v -> %+v", before, st.users[owner.ID])
	}
}

func TestConcurrentReportsCountExactly(t *testing.T) {
	st := newMemStore()
	owner := uuid.New()
	st.addVehicle("AB123CD", owner)
	svc := newService(st, nil)

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Report(context.Background(), controller, ReportInput{Plate: "AB123CD", Reason: "No Active Session"}); err != nil {
				t.Errorf("report: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := st.users[owner].violations; got != n {
		t.Fatalf("expected %d violations, got %d", n, got)
	}
}
