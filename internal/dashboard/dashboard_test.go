package dashboard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
)

type stubStore struct {
	dayStart time.Time
}

func (s *stubStore) Stats(ctx context.Context, dayStart time.Time) (Stats, error) {
	s.dayStart = dayStart
	return Stats{TotalUsers: 4, AllRevenue: 10.005, TodayRevenue: 2.499}, nil
}

func (s *stubStore) RecentUsers(ctx context.Context, limit int) ([]RecentUser, error) {
	return []RecentUser{{ID: uuid.New(), Email: "new@example.com", Role: auth.RoleUser}}, nil
}

func TestOverviewUsesLocalMidnight(t *testing.T) {
	loc := time.FixedZone("IDT", 3*60*60)
	st := &stubStore{}
	svc := &Service{store: st, loc: loc, now: func() time.Time { return time.Date(2024, 6, 1, 22, 30, 0, 0, time.UTC) }}

	out, err := svc.Overview(context.Background())
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	want := time.Date(2024, 6, 2, 0, 0, 0, 0, loc)
	if !st.dayStart.Equal(want) {
		t.Fatalf("day start %s, want %s", st.dayStart, want)
	}
	if out.Stats.TodayRevenue != 2.5 || len(out.RecentActivity) != 1 {
		t.Fatalf("unexpected overview %+v", out)
	}
}

func TestDashboardSuperuserOnly(t *testing.T) {
	svc := &Service{store: &stubStore{}, loc: time.UTC, now: time.Now}

	for _, tc := range []struct {
		role auth.Role
		want int
	}{
		{auth.RoleManager, http.StatusForbidden},
		{auth.RoleSuperuser, http.StatusOK},
	} {
		r := chi.NewRouter()
		actor := auth.Actor{ID: uuid.New(), Role: tc.role}
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(httpmiddleware.WithActor(req.Context(), actor)))
			})
		})
		NewHandler(svc).RegisterRoutes(r)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard/", nil))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.role, tc.want, rec.Code)
		}
		if tc.want == http.StatusOK && !strings.Contains(rec.Body.String(), "recent_activity") {
			t.Fatalf("unexpected body %s", rec.Body.String())
		}
	}
}
