package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestExtractBearer(t *testing.T) {
	type scenario struct {
		header   string
		expected string
		wantErr  bool
	}

	scenarios := []scenario{
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
		{"", "", true},
		{"Basic abc", "", true},
		{"bearer abc", "", true},
	}

	for _, s := range scenarios {
		token, err := ExtractBearer(s.header)
		if s.wantErr {
			assert.True(t, errs.HasKind(err, errs.KindMissingCredential))
			continue
		}
		assert.NoError(t, err)
		assert.EqualValues(t, s.expected, token)
	}
}

func TestVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour).Unix()
	past := now.Add(-time.Hour).Unix()

	type scenario struct {
		name         string
		token        string
		expectedKind errs.Kind
		expectedUser string
		expectedRole string
	}

	scenarios := []scenario{
		{
			name: "valid free user",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "jaewoo", "role": RoleFree, "exp": future,
			}),
			expectedUser: "jaewoo",
			expectedRole: RoleFree,
		},
		{
			name: "valid admin",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "root", "role": RoleAdmin, "exp": future,
			}),
			expectedUser: "root",
			expectedRole: RoleAdmin,
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "jaewoo", "role": RoleFree, "exp": past,
			}),
			expectedKind: errs.KindExpired,
		},
		{
			name: "exp equal to now is expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "jaewoo", "role": RoleFree, "exp": now.Unix(),
			}),
			expectedKind: errs.KindExpired,
		},
		{
			name: "missing exp",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "jaewoo", "role": RoleFree,
			}),
			expectedKind: errs.KindExpired,
		},
		{
			name: "refresh token rejected",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "refresh", "username": "jaewoo", "role": RoleFree, "exp": future,
			}),
			expectedKind: errs.KindInvalid,
		},
		{
			name: "missing username",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "role": RoleFree, "exp": future,
			}),
			expectedKind: errs.KindInvalid,
		},
		{
			name: "missing role",
			token: signToken(t, testSecret, jwt.MapClaims{
				"category": "access", "username": "jaewoo", "exp": future,
			}),
			expectedKind: errs.KindInvalid,
		},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.MapClaims{
				"category": "access", "username": "jaewoo", "role": RoleFree, "exp": future,
			}),
			expectedKind: errs.KindInvalid,
		},
		{
			name:         "garbage token",
			token:        "not.a.jwt",
			expectedKind: errs.KindInvalid,
		},
	}

	verifier := NewVerifier(testSecret)
	verifier.now = func() time.Time { return now }

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			principal, err := verifier.Verify(s.token)
			if s.expectedUser == "" {
				assert.True(t, errs.HasKind(err, s.expectedKind), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, s.expectedUser, principal.Username)
			assert.EqualValues(t, s.expectedRole, principal.Role)
			assert.EqualValues(t, s.token, principal.Token)
		})
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	claims := jwt.MapClaims{
		"category": "access", "username": "jaewoo", "role": RoleFree,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret).Verify(token)
	assert.True(t, errs.HasKind(err, errs.KindInvalid))
}

func TestUnlimited(t *testing.T) {
	assert.False(t, Principal{Role: RoleFree}.Unlimited())
	assert.True(t, Principal{Role: RoleMember}.Unlimited())
	assert.True(t, Principal{Role: RoleAdmin}.Unlimited())
}
