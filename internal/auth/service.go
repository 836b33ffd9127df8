// internal/auth/service.go
// Token validation for protected routes. Account creation, sessions
// and credential management live in the identity service, not here.

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/peerfund/peerfund-backend/internal/common/utils"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Service validates bearer tokens for the API surface
type Service interface {
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

type service struct {
	config *Config
}

// Config holds auth service configuration
type Config struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

// NewService creates a new auth service
func NewService(config *Config) Service {
	return &service{config: config}
}

func (s *service) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := utils.ValidateJWT(token, s.config.JWTSecret)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt > 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}

	return claims, nil
}
