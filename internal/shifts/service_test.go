package shifts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
)

type memStore struct {
	mu       sync.Mutex
	shifts   []Shift
	officers map[uuid.UUID]ActiveOfficer
	cities   map[uuid.UUID][]string
}

func newMemStore() *memStore {
	return &memStore{officers: map[uuid.UUID]ActiveOfficer{}, cities: map[uuid.UUID][]string{}}
}

func (m *memStore) current(officerID uuid.UUID) (Shift, bool) {
	for _, s := range m.shifts {
		if s.OfficerID == officerID && s.Status == StatusOpen {
			return s, true
		}
	}
	return Shift{}, false
}

func (m *memStore) CurrentShift(ctx context.Context, officerID uuid.UUID) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.current(officerID); ok {
		return s, nil
	}
	return Shift{}, ErrNoActiveShift
}

func (m *memStore) StartShift(ctx context.Context, officerID uuid.UUID, start time.Time) (Shift, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.current(officerID); ok {
		return s, false, nil
	}
	s := Shift{ID: uuid.New(), OfficerID: officerID, StartTime: start, Status: StatusOpen}
	m.shifts = append(m.shifts, s)
	return s, true, nil
}

func (m *memStore) CloseShift(ctx context.Context, officerID uuid.UUID, id *uuid.UUID, end time.Time) (Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.shifts {
		if s.OfficerID == officerID && s.Status == StatusOpen && (id == nil || *id == s.ID) {
			s.Status, s.EndTime = StatusClosed, &end
			m.shifts[i] = s
			return s, nil
		}
	}
	return Shift{}, ErrNoActiveShift
}

func (m *memStore) History(ctx context.Context, officerID uuid.UUID, limit int) ([]Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Shift
	for i := len(m.shifts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.shifts[i].OfficerID == officerID {
			out = append(out, m.shifts[i])
		}
	}
	return out, nil
}

func (m *memStore) ActiveOfficers(ctx context.Context, city string) ([]ActiveOfficer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ActiveOfficer
	for _, s := range m.shifts {
		if s.Status != StatusOpen {
			continue
		}
		o := m.officers[s.OfficerID]
		actor := auth.Actor{ID: o.ID, Role: o.Role, AllowedCities: m.cities[o.ID]}
		if actor.CanOperateIn(city) {
			o.ShiftID, o.ShiftStart = s.ID, s.StartTime
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestService(st store, clock *time.Time) *Service {
	return &Service{store: st, now: func() time.Time { return *clock }}
}

func TestStartIsIdempotentAndTruncated(t *testing.T) {
	clock := time.Date(2024, 6, 1, 7, 30, 15, 987654321, time.UTC)
	svc := newTestService(newMemStore(), &clock)
	officer := auth.Actor{ID: uuid.New(), Role: auth.RoleController}

	first, created, err := svc.Start(context.Background(), officer)
	if err != nil || !created {
		t.Fatalf("start: created=%v err=%v", created, err)
	}
	if first.StartTime.Nanosecond() != 0 {
		t.Fatalf("start time not truncated: %s", first.StartTime)
	}
	again, created, err := svc.Start(context.Background(), officer)
	if err != nil || created || again.ID != first.ID {
		t.Fatalf("second start must return the open shift, got %+v created=%v err=%v", again, created, err)
	}
}

func TestConcurrentStartsOpenOneShift(t *testing.T) {
	clock := time.Now()
	st := newMemStore()
	svc := newTestService(st, &clock)
	officer := auth.Actor{ID: uuid.New(), Role: auth.RoleManager}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := svc.Start(context.Background(), officer)
			if err != nil {
				t.Errorf("start: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if created != 1 || len(st.shifts) != 1 {
		t.Fatalf("expected one shift, created=%d stored=%d", created, len(st.shifts))
	}
}

func TestEndShift(t *testing.T) {
	clock := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	svc := newTestService(newMemStore(), &clock)
	officer := auth.Actor{ID: uuid.New(), Role: auth.RoleController}
	ctx := context.Background()

	if _, _, err := svc.End(ctx, officer, nil); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected no active shift, got %v", err)
	}
	shift, _, _ := svc.Start(ctx, officer)
	clock = clock.Add(90 * time.Minute)

	other := uuid.New()
	if _, _, err := svc.End(ctx, officer, &other); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("unknown shift id must not close anything, got %v", err)
	}
	ended, seconds, err := svc.End(ctx, officer, &shift.ID)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.Status != StatusClosed || seconds != 5400 {
		t.Fatalf("unexpected end %+v seconds=%d", ended, seconds)
	}
	if _, err := svc.Current(ctx, officer); !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("no shift should be open, got %v", err)
	}
}

func TestActiveOfficersByCity(t *testing.T) {
	clock := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	st := newMemStore()
	svc := newTestService(st, &clock)
	ctx := context.Background()

	haifa := auth.Actor{ID: uuid.New(), Role: auth.RoleController}
	eilat := auth.Actor{ID: uuid.New(), Role: auth.RoleController}
	root := auth.Actor{ID: uuid.New(), Role: auth.RoleSuperuser}
	for _, a := range []auth.Actor{haifa, eilat, root} {
		st.officers[a.ID] = ActiveOfficer{ID: a.ID, Role: a.Role, Email: a.ID.String() + "@example.com"}
		if _, _, err := svc.Start(ctx, a); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	st.cities[haifa.ID] = []string{"Haifa"}
	st.cities[eilat.ID] = []string{"Eilat"}

	if _, err := svc.ActiveOfficers(ctx, " "); !errors.Is(err, ErrCityRequired) {
		t.Fatalf("expected city required, got %v", err)
	}

	clock = clock.Add(10 * time.Minute)
	list, err := svc.ActiveOfficers(ctx, "haifa")
	if err != nil {
		t.Fatalf("active officers: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected haifa officer and superuser, got %+v", list)
	}
	for _, o := range list {
		if o.ID == eilat.ID {
			t.Fatal("eilat officer must not be listed")
		}
		if o.ShiftDurationSeconds != 600 {
			t.Fatalf("unexpected duration %d", o.ShiftDurationSeconds)
		}
	}
}

func TestHTTPShiftRoutes(t *testing.T) {
	clock := time.Now()
	svc := newTestService(newMemStore(), &clock)

	serve := func(actor auth.Actor, method, path, body string) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(httpmiddleware.WithActor(req.Context(), actor)))
			})
		})
		NewHandler(svc).RegisterRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	driver := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	if rec := serve(driver, http.MethodPost, "/users/shifts/start/", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("drivers cannot start shifts, got %d", rec.Code)
	}

	controller := auth.Actor{ID: uuid.New(), Role: auth.RoleController}
	if rec := serve(controller, http.MethodGet, "/users/shifts/current/", ""); !strings.Contains(rec.Body.String(), `"active":false`) {
		t.Fatalf("unexpected current body %s", rec.Body.String())
	}
	if rec := serve(controller, http.MethodPost, "/users/shifts/start/", ""); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := serve(controller, http.MethodPost, "/users/shifts/start/", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing shift, got %d", rec.Code)
	}
	if rec := serve(controller, http.MethodGet, "/users/shifts/active-officers/?city=Haifa", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("controllers cannot list active officers, got %d", rec.Code)
	}
	if rec := serve(controller, http.MethodPost, "/users/shifts/end/", "{}"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Shift ended.") {
		t.Fatalf("unexpected end response %d %s", rec.Code, rec.Body.String())
	}

	manager := auth.Actor{ID: uuid.New(), Role: auth.RoleManager}
	if rec := serve(manager, http.MethodGet, "/users/shifts/active-officers/", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without city, got %d", rec.Code)
	}
}
