package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-signing-secret"
	testIssuer = "audit-ledger"
)

func newTestValidator() *Validator {
	return NewValidator(Config{
		Secret: testSecret,
		Issuer: testIssuer,
	})
}

func TestNewValidator(t *testing.T) {
	validator := newTestValidator()

	assert.NotNil(t, validator)
	assert.Equal(t, []byte(testSecret), validator.secret)
	assert.Equal(t, testIssuer, validator.issuer)
}

func TestValidateToken_Success(t *testing.T) {
	validator := newTestValidator()

	tokenString, err := IssueToken(testSecret, testIssuer, "ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(context.Background(), tokenString)

	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Sub)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, testIssuer, claims.Iss)
	assert.Greater(t, claims.Exp, time.Now().Unix())
	assert.LessOrEqual(t, claims.Iat, time.Now().Unix())
}

func TestValidateToken_WrongSecret(t *testing.T) {
	validator := newTestValidator()

	tokenString, err := IssueToken("a-different-secret", testIssuer, "ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), tokenString)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	validator := newTestValidator()

	// Expired an hour ago
	tokenString, err := IssueToken(testSecret, testIssuer, "ops@example.com", "admin", -time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), tokenString)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateToken_InvalidIssuer(t *testing.T) {
	validator := newTestValidator()

	tokenString, err := IssueToken(testSecret, "some-other-service", "ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), tokenString)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestValidateToken_IssuerNotEnforcedWhenUnset(t *testing.T) {
	validator := NewValidator(Config{Secret: testSecret})

	tokenString, err := IssueToken(testSecret, "anything-goes", "ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := validator.ValidateToken(context.Background(), tokenString)

	require.NoError(t, err)
	assert.Equal(t, "anything-goes", claims.Iss)
}

func TestValidateToken_RejectsUnsignedToken(t *testing.T) {
	validator := newTestValidator()

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "admin",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), tokenString)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_Garbage(t *testing.T) {
	validator := newTestValidator()

	_, err := validator.ValidateToken(context.Background(), "not.a.token")

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateToken_NoSecretConfigured(t *testing.T) {
	validator := NewValidator(Config{})

	tokenString, err := IssueToken(testSecret, testIssuer, "ops@example.com", "admin", time.Hour)
	require.NoError(t, err)

	_, err = validator.ValidateToken(context.Background(), tokenString)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := IssueToken("", testIssuer, "ops@example.com", "admin", time.Hour)

	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSecret)
}
