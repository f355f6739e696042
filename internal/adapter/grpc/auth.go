package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// Role separates payers from the transport gateway, which alone may credit
// confirmations.
type Role string

const (
	RolePayer     Role = "payer"
	RoleTransport Role = "transport"
)

// Claims are the access token claims. The subject is the caller's address
// in "domain:account" form.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Caller is the authenticated identity of a request.
type Caller struct {
	Address domain.Address
	Role    Role
}

// TokenService issues and validates HS256 access tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// NewTokenService creates a token service.
func NewTokenService(signingKey, issuer string) *TokenService {
	return &TokenService{signingKey: []byte(signingKey), issuer: issuer, now: time.Now}
}

// Issue signs a token for caller valid for ttl.
func (s *TokenService) Issue(caller Caller, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: caller.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Address.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses a token and returns its caller.
func (s *TokenService) Validate(tokenString string) (Caller, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Caller{}, errors.New("token has expired")
		}
		return Caller{}, errors.New("invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Caller{}, errors.New("invalid token claims")
	}

	addr, err := domain.ParseAddress(claims.Subject)
	if err != nil {
		return Caller{}, fmt.Errorf("invalid token subject: %w", err)
	}
	role := claims.Role
	if role == "" {
		role = RolePayer
	}
	return Caller{Address: addr, Role: role}, nil
}

type callerKey struct{}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the authenticated caller stored by AuthInterceptor.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
