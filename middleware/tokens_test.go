package middleware

import (
	"strings"
	"testing"
	"time"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func TestAccessTokenRoundTrip(t *testing.T) {
	ts, err := NewTokenService(testSigningKey, nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}

	token, err := ts.IssueAccessToken("alice", "editor")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	claims, err := ts.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("Failed to verify token: %v", err)
	}
	if claims.UserID != "alice" || claims.Role != "editor" {
		t.Errorf("Wrong claims: %+v", claims)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	ts, err := NewTokenService(testSigningKey, nil, 10*time.Minute, clock)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}

	token, err := ts.IssueAccessToken("alice", "")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	now = now.Add(11 * time.Minute)
	if _, err = ts.VerifyAccessToken(token); err == nil {
		t.Error("Expired token accepted")
	}
}

func TestAPIKeyTypeSeparation(t *testing.T) {
	ts, err := NewTokenService(testSigningKey, nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}

	apiKey, err := ts.IssueAPIKey("alice", "ci-pipeline", []string{"read"})
	if err != nil {
		t.Fatalf("Failed to issue API key: %v", err)
	}

	claims, err := ts.VerifyAPIKey(apiKey)
	if err != nil {
		t.Fatalf("Failed to verify API key: %v", err)
	}
	if claims.Name != "ci-pipeline" {
		t.Errorf("Wrong key name: %s", claims.Name)
	}

	// An API key is not an access token and vice versa.
	if _, err = ts.VerifyAccessToken(apiKey); err == nil {
		t.Error("API key accepted as access token")
	}
	access, err := ts.IssueAccessToken("alice", "")
	if err != nil {
		t.Fatalf("Failed to issue access token: %v", err)
	}
	if _, err = ts.VerifyAPIKey(access); err == nil {
		t.Error("Access token accepted as API key")
	}
}

func TestTokenRejectsWrongKey(t *testing.T) {
	ts, err := NewTokenService(testSigningKey, nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}
	other, err := NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), nil, 0, nil)
	if err != nil {
		t.Fatalf("Failed to create token service: %v", err)
	}

	token, err := ts.IssueAccessToken("alice", "")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err = other.VerifyAccessToken(token); err == nil {
		t.Error("Token signed with a different key accepted")
	}
}

func TestShortSigningKeyRejected(t *testing.T) {
	if _, err := NewTokenService([]byte("too-short"), nil, 0, nil); err == nil {
		t.Error("Expected error for short signing key")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Str0ng!Password")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	if hash == "Str0ng!Password" {
		t.Fatal("Password stored in the clear")
	}
	if !VerifyPassword("Str0ng!Password", hash) {
		t.Error("Correct password rejected")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("Wrong password accepted")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		want     bool
	}{
		{"Str0ng!Password", true},
		{"Aa1!aaaa", true},
		{"short1!", false},
		{"alllowercase1!", false},
		{"ALLUPPERCASE1!", false},
		{"NoDigits!!", false},
		{"NoSpecial11", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidatePasswordStrength(tc.password); got != tc.want {
			t.Errorf("ValidatePasswordStrength(%q) = %v, want %v", tc.password, got, tc.want)
		}
	}
}

func TestMaskSensitive(t *testing.T) {
	masked := MaskSensitive("sk-live-abc123def456")
	if masked != "sk-l************f456" {
		t.Errorf("Unexpected mask: %q", masked)
	}
	if strings.Contains(masked, "abc123") {
		t.Error("Mask leaks the middle of the secret")
	}

	// Short values are fully masked.
	if MaskSensitive("12345678") != "********" {
		t.Errorf("Short value not fully masked: %q", MaskSensitive("12345678"))
	}
	if MaskSensitive("") != "" {
		t.Error("Empty value should mask to empty")
	}
}
