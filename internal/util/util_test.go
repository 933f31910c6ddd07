package util

import (
	"strings"
	"testing"
)

func TestNormalizePlate(t *testing.T) {
	cases := map[string]string{
		"ab123cd":     "AB123CD",
		" AB 123 CD ": "AB123CD",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizePlate(in); got != want {
			t.Fatalf("NormalizePlate(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	for _, ok := range []string{"driver@example.com", " Driver@Example.com "} {
		if err := ValidateEmail(ok); err != nil {
			t.Fatalf("ValidateEmail(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{
		"not-an-email",
		"  ",
		"Bob <bob@example.com>",
		"<bob@example.com>",
		"bob@localhost",
	} {
		if err := ValidateEmail(bad); err == nil {
			t.Fatalf("ValidateEmail(%q) accepted", bad)
		}
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("fines", "AB123CD", ".jpg")
	if !strings.HasPrefix(key, "fines/AB123CD_") || !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("unexpected key %q", key)
	}
}
