package service

import (
	"crypto/subtle"
	"fmt"
	"time"

	"memo-sync/internal/domain"
	"memo-sync/pkg/hash"
	"memo-sync/pkg/jwt"
)

// AuthService authenticates the single configured administrator and issues
// bearer tokens.
type AuthService struct {
	username      string
	passwordHash  string
	jwtSecret     string
	jwtExpiration time.Duration
}

// NewAuthService accepts the admin password either in clear or already
// bcrypt-hashed.
func NewAuthService(username, password, jwtSecret string, jwtExp time.Duration) (*AuthService, error) {
	passwordHash, err := hash.Prepare(password)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare admin password: %w", err)
	}

	return &AuthService{
		username:      username,
		passwordHash:  passwordHash,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExp,
	}, nil
}

func (s *AuthService) Login(req *domain.LoginRequest) (*domain.LoginResponse, error) {
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.username)) == 1
	passErr := hash.Compare(s.passwordHash, req.Password)
	if !userOK || passErr != nil {
		return nil, domain.ErrInvalidCredentials
	}

	token, err := jwt.GenerateToken(s.username, s.jwtExpiration, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &domain.LoginResponse{Token: token}, nil
}

func (s *AuthService) ValidateToken(token string) (*jwt.Claims, error) {
	claims, err := jwt.ValidateToken(token, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}
