package util

import (
	"net/http"
	"testing"
)

func TestJWTRoundTrip(t *testing.T) {
	token, err := GenerateJWT("ops-team", "secret")
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	subject, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if subject != "ops-team" {
		t.Fatalf("subject = %q", subject)
	}

	if _, err := ParseJWT(token, "wrong-secret"); err == nil {
		t.Fatal("wrong secret must be rejected")
	}
}

func TestExtractToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", nil)
	if got := ExtractToken(r); got != "" {
		t.Fatalf("no header should yield empty, got %q", got)
	}

	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	if got := ExtractToken(r); got != "abc.def.ghi" {
		t.Fatalf("ExtractToken = %q", got)
	}

	r.Header.Set("Authorization", "Basic xyz")
	if got := ExtractToken(r); got != "" {
		t.Fatalf("non-bearer scheme should yield empty, got %q", got)
	}
}
