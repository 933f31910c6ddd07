package auth

import (
	"testing"
	"time"
)

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name     string
		role     Role
		required []Role
		want     bool
	}{
		{"user on user route", RoleUser, []Role{RoleUser}, true},
		{"user on officer route", RoleUser, Officers, false},
		{"controller on officer route", RoleController, Officers, true},
		{"controller on manager route", RoleController, []Role{RoleManager}, false},
		{"superuser everywhere", RoleSuperuser, []Role{RoleUser}, true},
		{"unknown role", Role("admin"), []Role{RoleManager}, false},
		{"no requirement", RoleManager, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Authorize(tc.role, tc.required...); got != tc.want {
				t.Fatalf("Authorize(%q) = %v, want %v", tc.role, got, tc.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Manager "); !ok || r != RoleManager {
		t.Fatalf("expected manager, got %q %v", r, ok)
	}
	if _, ok := ParseRole("admin"); ok {
		t.Fatal("admin must not parse")
	}
}

func TestActorCanOperateIn(t *testing.T) {
	controller := Actor{Role: RoleController, AllowedCities: []string{"Tel Aviv", "Haifa"}}
	if !controller.CanOperateIn("tel aviv") {
		t.Fatal("controller should operate in an allowed city")
	}
	if controller.CanOperateIn("Eilat") {
		t.Fatal("controller must not operate outside allowed cities")
	}

	user := Actor{Role: RoleUser, AllowedCities: []string{"Haifa"}}
	if user.CanOperateIn("Haifa") {
		t.Fatal("plain users never operate in cities")
	}

	super := Actor{Role: RoleSuperuser}
	if !super.CanOperateIn("anywhere") {
		t.Fatal("superuser operates everywhere")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	m := NewJWTManager("0123456789abcdef0123456789abcdef", time.Minute)

	token, jti, err := m.GenerateAccessToken("subject-1", "parking", RoleController, []string{"Haifa"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := m.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "subject-1" || claims.ID != jti {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Role != RoleController || len(claims.AllowedCities) != 1 {
		t.Fatalf("role claims lost: %+v", claims)
	}

	other := NewJWTManager("ffffffffffffffffffffffffffffffff", time.Minute)
	if _, err := other.ParseAndValidate(token); err == nil {
		t.Fatal("token signed with another secret must fail")
	}
}

func TestJWTExpired(t *testing.T) {
	m := NewJWTManager("0123456789abcdef0123456789abcdef", -time.Minute)
	token, _, err := m.GenerateAccessToken("s", "parking", RoleUser, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.ParseAndValidate(token); err == nil {
		t.Fatal("expired token must fail")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := Verify("correct horse", hash)
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, _ = Verify("wrong", hash)
	if ok {
		t.Fatal("wrong password must not match")
	}
}

func TestRefreshTokenHash(t *testing.T) {
	raw, hashed, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if raw == hashed || HashRefreshToken(raw) != hashed {
		t.Fatal("hash must be deterministic and differ from raw")
	}
}
