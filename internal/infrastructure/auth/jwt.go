// Package auth verifies the HS256 operator tokens that guard the ops API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/coopportal/backend/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret    = errors.New("jwt secret is not configured")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrMissingUserID    = errors.New("token carries no user_id")
)

var signingMethod = jwt.SigningMethodHS256

type JWTService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{secret: []byte(cfg.Secret), issuer: cfg.Issuer, now: time.Now}
}

// IssueTokenInput describes the operator a token is minted for
type IssueTokenInput struct {
	UserID      uuid.UUID
	Username    string
	Permissions []string
	TTL         time.Duration
}

// IssueToken signs a token with the shared secret. The portal normally mints
// these; tests and operator scripts use this.
func (s *JWTService) IssueToken(in IssueTokenInput) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   in.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(in.TTL)),
		},
		UserID:      in.UserID.String(),
		Username:    in.Username,
		Permissions: in.Permissions,
	}
	return jwt.NewWithClaims(signingMethod, &claims).SignedString(s.secret)
}

// ValidateToken checks algorithm, signature, issuer and lifetime. Failures
// wrap one of ErrExpiredToken, ErrTokenNotYetValid, ErrMissingUserID or
// ErrInvalidToken.
func (s *JWTService) ValidateToken(raw string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	var claims Claims
	if _, err := jwt.ParseWithClaims(raw, &claims, s.key, s.parserOptions()...); err != nil {
		return nil, classify(err)
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	return &claims, nil
}

func (s *JWTService) key(*jwt.Token) (any, error) {
	return s.secret, nil
}

func (s *JWTService) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	return opts
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrExpiredToken, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return fmt.Errorf("%w: %w", ErrTokenNotYetValid, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}
