package parkings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tpsparking/api/internal/auth"
	httpmiddleware "github.com/tpsparking/api/internal/http/middleware"
)

func newTestRouter(svc *Service, actor auth.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(httpmiddleware.WithActor(req.Context(), actor)))
		})
	})
	NewHandler(svc).RegisterRoutes(r)
	return r
}

func TestHTTPCreateAndListParkings(t *testing.T) {
	svc := &Service{store: newMemStore()}
	m := manager("Haifa")
	router := newTestRouter(svc, m)

	body := `{"name":"Central","city":"Haifa","rate":2.5,"polygon_coordinates":[{"lat":32,"lng":34},{"lat":32,"lng":34.3},{"lat":32.3,"lng":34}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/parkings/", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: unexpected status %d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/parkings/?city=haifa", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: unexpected status %d", rec.Code)
	}

	var env struct {
		Data []struct {
			Name           string `json:"name"`
			AvailableSpots int    `json:"available_spots"`
			Marker         *Point `json:"marker"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0].Name != "Central" || env.Data[0].Marker == nil {
		t.Fatalf("unexpected list %+v", env.Data)
	}
}

func TestHTTPRoleGuards(t *testing.T) {
	svc := &Service{store: newMemStore()}
	driver := auth.Actor{ID: uuid.New(), Role: auth.RoleUser}
	router := newTestRouter(svc, driver)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/parkings/", `{}`},
		{http.MethodPost, "/cities/", `{"name":"X"}`},
		{http.MethodPatch, "/spots/" + uuid.NewString() + "/", `{"is_occupied":true}`},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestHTTPUnknownParking(t *testing.T) {
	svc := &Service{store: newMemStore()}
	router := newTestRouter(svc, manager("Haifa"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/parkings/"+uuid.NewString()+"/", nil).WithContext(context.Background()))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
