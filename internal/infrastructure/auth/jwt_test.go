package auth

import (
	"testing"
	"time"

	"github.com/erp/ingest/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{Enabled: true, Secret: testSecret, Issuer: "test-issuer"})
}

func signRaw(t *testing.T, claims *Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestIssueAndValidate(t *testing.T) {
	svc := newTestJWTService()
	tenantID, userID := uuid.New(), uuid.New()

	token, err := svc.IssueToken(IssueTokenInput{TenantID: tenantID, UserID: userID, Admin: true})
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID.String(), claims.TenantID)
	assert.Equal(t, userID.String(), claims.UserID)
	assert.True(t, claims.Admin)
	assert.Equal(t, "test-issuer", claims.Issuer)

	gotTenant, err := claims.TenantUUID()
	require.NoError(t, err)
	assert.Equal(t, tenantID, gotTenant)
	gotUser, err := claims.UserUUID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUser)
}

func TestValidate_Errors(t *testing.T) {
	svc := newTestJWTService()
	now := time.Now()
	valid := func() *Claims {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "test-issuer",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
			},
			TenantID: uuid.New().String(),
			UserID:   uuid.New().String(),
		}
	}

	tests := []struct {
		name  string
		token func() string
		want  error
	}{
		{
			name:  "garbage",
			token: func() string { return "not-a-token" },
			want:  ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: func() string {
				return signRaw(t, valid(), jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"))
			},
			want: ErrInvalidToken,
		},
		{
			name: "expired",
			token: func() string {
				c := valid()
				c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrExpiredToken,
		},
		{
			name: "not yet valid",
			token: func() string {
				c := valid()
				c.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrTokenNotYetValid,
		},
		{
			name: "wrong issuer",
			token: func() string {
				c := valid()
				c.Issuer = "someone-else"
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrInvalidToken,
		},
		{
			name: "wrong algorithm",
			token: func() string {
				return signRaw(t, valid(), jwt.SigningMethodHS512, []byte(testSecret))
			},
			want: ErrInvalidToken,
		},
		{
			name: "missing tenant",
			token: func() string {
				c := valid()
				c.TenantID = ""
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrMissingTenantID,
		},
		{
			name: "missing user",
			token: func() string {
				c := valid()
				c.UserID = ""
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrMissingUserID,
		},
		{
			name: "non uuid user",
			token: func() string {
				c := valid()
				c.UserID = "bob"
				return signRaw(t, c, jwt.SigningMethodHS256, []byte(testSecret))
			},
			want: ErrInvalidClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestIssueToken_DefaultTTL(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.IssueToken(IssueTokenInput{TenantID: uuid.New(), UserID: uuid.New()})
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}
