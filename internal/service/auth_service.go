package service

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"community-hub/internal/model"
	jwtutil "community-hub/pkg/jwt"
)

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	UserID uuid.UUID
	Role   model.UserRole
}

type AuthService struct {
	publicKey *rsa.PublicKey
}

func NewAuthService(publicKey *rsa.PublicKey) *AuthService {
	return &AuthService{publicKey: publicKey}
}

func (s *AuthService) Verify(token string) (*Identity, error) {
	if s == nil || s.publicKey == nil {
		return nil, fmt.Errorf("%w: verifier not configured", ErrAuthentication)
	}
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrAuthentication)
	}

	claims, err := jwtutil.ParseAccessToken(token, s.publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: user id is not a uuid", ErrAuthentication)
	}

	return &Identity{
		UserID: userID,
		Role:   model.ParseUserRole(claims.Role),
	}, nil
}
