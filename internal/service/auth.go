package service

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/Rrens/agent-bridge/internal/security"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService authenticates the single configured operator
type AuthService struct {
	username     string
	passwordHash string
	jwtManager   *security.JWTManager
}

// NewAuthService creates a new auth service
func NewAuthService(username, passwordHash string, jwtManager *security.JWTManager) *AuthService {
	return &AuthService{
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   jwtManager,
	}
}

// Login checks the operator credentials and returns tokens
func (s *AuthService) Login(input domain.Credentials) (*domain.TokenPair, error) {
	userOK := subtle.ConstantTimeCompare([]byte(input.Username), []byte(s.username)) == 1
	// bcrypt runs on every attempt, matching username or not
	passOK := security.CheckPassword(s.passwordHash, input.Password)
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}
	return s.issue(s.username)
}

// Refresh exchanges a refresh token for a new token pair
func (s *AuthService) Refresh(refreshToken string) (*domain.TokenPair, error) {
	subject, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, errors.New("invalid refresh token")
	}
	if subject != s.username {
		return nil, errors.New("invalid refresh token")
	}
	return s.issue(subject)
}

func (s *AuthService) issue(subject string) (*domain.TokenPair, error) {
	accessToken, refreshToken, expiresIn, err := s.jwtManager.GenerateTokenPair(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}
	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}, nil
}
