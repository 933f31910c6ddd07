// Package dashboard aggregates platform statistics for superusers.
package dashboard

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/util"
)

// Stats are the headline numbers.
type Stats struct {
	TotalUsers         int     `json:"total_users"`
	NewUsersToday      int     `json:"new_users_today"`
	ActiveSessions     int     `json:"active_sessions"`
	AllRevenue         float64 `json:"all_revenue"`
	TodayRevenue       float64 `json:"today_revenue"`
	UnpaidViolations   int     `json:"unpaid_violations"`
	NewViolationsToday int     `json:"new_violations_today"`
}

// RecentUser is a recent sign-up.
type RecentUser struct {
	ID         uuid.UUID `json:"id"`
	Email      string    `json:"email"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Role       auth.Role `json:"role"`
	DateJoined time.Time `json:"date_joined"`
}

// Overview is the dashboard payload.
type Overview struct {
	Stats          Stats        `json:"stats"`
	RecentActivity []RecentUser `json:"recent_activity"`
}

type store interface {
	Stats(ctx context.Context, dayStart time.Time) (Stats, error)
	RecentUsers(ctx context.Context, limit int) ([]RecentUser, error)
}

// Repository reads the aggregates from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Stats(ctx context.Context, dayStart time.Time) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM users),
			(SELECT count(*) FROM users WHERE date_joined >= $1),
			(SELECT count(*) FROM parking_sessions WHERE is_active),
			(SELECT COALESCE(sum(total_cost), 0)::float8 FROM parking_sessions),
			(SELECT COALESCE(sum(total_cost), 0)::float8 FROM parking_sessions WHERE start_time >= $1),
			(SELECT count(*) FROM fines WHERE status = 'unpaid'),
			(SELECT count(*) FROM fines WHERE issued_at >= $1)`, dayStart).
		Scan(&s.TotalUsers, &s.NewUsersToday, &s.ActiveSessions, &s.AllRevenue, &s.TodayRevenue,
			&s.UnpaidViolations, &s.NewViolationsToday)
	return s, err
}

func (r *Repository) RecentUsers(ctx context.Context, limit int) ([]RecentUser, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, first_name, last_name, role, date_joined
		FROM users ORDER BY date_joined DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []RecentUser{}
	for rows.Next() {
		var u RecentUser
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role, &u.DateJoined); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Service computes the overview; "today" starts at local midnight in loc.
type Service struct {
	store store
	loc   *time.Location
	now   func() time.Time
}

func NewService(repo *Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: repo, loc: loc, now: util.Now}
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	local := s.now().In(s.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	stats, err := s.store.Stats(ctx, dayStart)
	if err != nil {
		return Overview{}, err
	}
	stats.AllRevenue = math.Round(stats.AllRevenue*100) / 100
	stats.TodayRevenue = math.Round(stats.TodayRevenue*100) / 100

	recent, err := s.store.RecentUsers(ctx, 5)
	if err != nil {
		return Overview{}, err
	}
	return Overview{Stats: stats, RecentActivity: recent}, nil
}

type ServiceProvider interface {
	Overview(ctx context.Context) (Overview, error)
}

type Handler struct {
	service ServiceProvider
}

func NewHandler(service ServiceProvider) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(httpmiddleware.RequireRoles(auth.RoleSuperuser)).Get("/dashboard/", h.overview)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Overview(r.Context())
	if err != nil {
		respond.Internal(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, out)
}
