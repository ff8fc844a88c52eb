// Package auth validates the bearer tokens issued by the identity provider
// and turns them into request-scoped principals.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// Role values mirror the identity provider's role claim.
const (
	RoleFree   = "ROLE_FREE"
	RoleMember = "ROLE_MEMBER"
	RoleAdmin  = "ROLE_ADMIN"
)

// Principal is the authenticated identity extracted from an access token.
// It lives for the duration of one request.
type Principal struct {
	Username string
	Role     string
	Expiry   time.Time
	Token    string
}

// Unlimited reports whether the principal bypasses the free-tier quota.
func (p Principal) Unlimited() bool {
	return p.Role == RoleMember || p.Role == RoleAdmin
}

// Verifier checks access tokens against the preshared HS256 secret. It does
// no I/O; the same token always yields the same result for a given clock.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier using the given symmetric secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// ExtractBearer pulls the token out of an Authorization header value.
func ExtractBearer(header string) (string, error) {
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", errs.New(errs.KindMissingCredential, "missing or invalid Authorization header")
	}
	return header[len("Bearer "):], nil
}

// Verify parses and validates token and produces a Principal. The token must
// be signed with HS256, carry category="access", an exp strictly in the
// future (UTC) and non-empty username and role claims.
func (v *Verifier) Verify(token string) (Principal, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errs.New(errs.KindInvalid, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return Principal{}, errs.New(errs.KindInvalid, "invalid token")
	}

	category, _ := claims["category"].(string)
	if category != "access" {
		return Principal{}, errs.New(errs.KindInvalid, "not an access token")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Principal{}, errs.New(errs.KindExpired, "token expired")
	}
	expiry := exp.Time.UTC()
	if !expiry.After(v.now().UTC()) {
		return Principal{}, errs.New(errs.KindExpired, "token expired")
	}

	username, _ := claims["username"].(string)
	role, _ := claims["role"].(string)
	if username == "" || role == "" {
		return Principal{}, errs.New(errs.KindInvalid, "missing claims")
	}

	return Principal{
		Username: username,
		Role:     role,
		Expiry:   expiry,
		Token:    token,
	}, nil
}
