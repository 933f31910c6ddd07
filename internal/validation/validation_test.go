package validation

import (
	"errors"
	"testing"
)

type registerPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Nickname string `json:"-" validate:"max=3"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(registerPayload{Email: "nope", Password: "short", Nickname: "toolong"})

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if verr.Fields["email"] != "Enter a valid email address." {
		t.Fatalf("unexpected email message %q", verr.Fields["email"])
	}
	if _, ok := verr.Fields["password"]; !ok {
		t.Fatal("password error missing")
	}
	if _, ok := verr.Fields["Nickname"]; !ok {
		t.Fatal("untagged fields fall back to the Go name")
	}
}

func TestStructPasses(t *testing.T) {
	if err := Struct(registerPayload{Email: "a@example.com", Password: "longenough"}); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestVar(t *testing.T) {
	if err := Var("lat", 123.0, "latitude"); err == nil {
		t.Fatal("expected latitude error")
	}
	if err := Var("lat", 32.1, "latitude"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
