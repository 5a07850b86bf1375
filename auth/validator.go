package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/trailguard/audit-ledger/middleware"
)

var (
	// ErrInvalidToken is returned when the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidIssuer is returned when the token issuer is invalid
	ErrInvalidIssuer = errors.New("invalid issuer")

	// ErrNoSecret is returned when no signing secret is configured
	ErrNoSecret = errors.New("no signing secret configured")
)

// Claims represents the custom claims in tokens issued for the ledger API
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Config holds configuration for Validator
type Config struct {
	Secret string
	Issuer string
}

// Validator validates HS256-signed JWT tokens issued for the ledger API.
// It implements middleware.TokenValidator.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a new JWT validator
func NewValidator(config Config) *Validator {
	return &Validator{
		secret: []byte(config.Secret),
		issuer: config.Issuer,
	}
}

// ValidateToken validates a JWT token and returns claims for the middleware
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	if len(v.secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// Extract and validate claims
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Verify issuer when configured
	if v.issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrInvalidIssuer, v.issuer, claims.Issuer)
	}

	out := &middleware.Claims{
		Sub:  claims.Subject,
		Role: claims.Role,
		Iss:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.Exp = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.Iat = claims.IssuedAt.Unix()
	}

	return out, nil
}

// IssueToken mints an HS256-signed token for the given subject and role.
// Used by the CLI token command and by tests.
func IssueToken(secret, issuer, subject, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
