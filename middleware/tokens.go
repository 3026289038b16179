package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"southwinds.dev/aegis/audit"
)

// DefaultAccessTokenTTL is the lifetime of access tokens issued without an
// explicit duration.
const DefaultAccessTokenTTL = 30 * time.Minute

const (
	tokenTypeAccess = "access"
	tokenTypeAPIKey = "api_key"
)

// Claims are the JWT claims carried by tokens issued here.
type Claims struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role,omitempty"`
	TokenType   string   `json:"token_type"`
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access tokens and API keys. Both are HMAC
// signed JWTs; API keys carry no expiry and are distinguished by token type
// so one can never be accepted where the other is expected.
type TokenService struct {
	signingKey []byte
	audit      audit.Recorder
	ttl        time.Duration
	clock      func() time.Time
}

// NewTokenService creates a token service signing with key. A zero ttl uses
// DefaultAccessTokenTTL; clock may be nil to use wall time.
func NewTokenService(key []byte, rec audit.Recorder, ttl time.Duration, clock func() time.Time) (*TokenService, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("signing key must be at least 32 bytes, got %d", len(key))
	}
	if rec == nil {
		rec = audit.NoOp{}
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenService{signingKey: key, audit: rec, ttl: ttl, clock: clock}, nil
}

// IssueAccessToken signs a short-lived access token for userID.
func (ts *TokenService) IssueAccessToken(userID, role string) (string, error) {
	now := ts.clock().UTC()
	claims := Claims{
		UserID:    userID,
		Role:      role,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// IssueAPIKey signs a named, non-expiring API key for programmatic access.
func (ts *TokenService) IssueAPIKey(userID, name string, permissions []string) (string, error) {
	now := ts.clock().UTC()
	claims := Claims{
		UserID:      userID,
		TokenType:   tokenTypeAPIKey,
		Name:        name,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign API key: %w", err)
	}
	ts.audit.Record(audit.Entry{
		Name:   "api_key_issued",
		UserID: userID,
		Details: map[string]any{
			"key_name": name,
		},
	})
	return signed, nil
}

// VerifyAccessToken parses and verifies an access token.
func (ts *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	return ts.verify(token, tokenTypeAccess)
}

// VerifyAPIKey parses and verifies an API key.
func (ts *TokenService) VerifyAPIKey(key string) (*Claims, error) {
	return ts.verify(key, tokenTypeAPIKey)
}

func (ts *TokenService) verify(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, jwt.WithTimeFunc(ts.clock))
	if err != nil {
		ts.audit.Record(audit.Entry{
			Name: "token_verification_failed",
			Details: map[string]any{
				"error": err.Error(),
			},
		})
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.TokenType != wantType {
		return nil, fmt.Errorf("invalid token: wrong token type")
	}
	return claims, nil
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored bcrypt hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePasswordStrength requires at least 8 characters with upper case,
// lower case, a digit and a special character.
func ValidatePasswordStrength(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, c := range password {
		switch {
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= '0' && c <= '9':
			hasDigit = true
		case strings.ContainsRune("!@#$%^&*()_+-=[]{}|;:,.<>?", c):
			hasSpecial = true
		}
	}
	return hasUpper && hasLower && hasDigit && hasSpecial
}

// MaskSensitive masks a secret for logging, keeping the first and last four
// characters when the value is long enough to not give the rest away.
func MaskSensitive(value string) string {
	const visible = 4
	if len(value) <= visible*2 {
		return strings.Repeat("*", len(value))
	}
	return value[:visible] + strings.Repeat("*", len(value)-visible*2) + value[len(value)-visible:]
}
