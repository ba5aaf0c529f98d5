package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrInvalidToken  = errors.New("invalid token")
)

const sessionTokenTTL = 24 * time.Hour

// Service issues per-session editor tokens and checks the host API key.
type Service struct {
	jwtSecret  []byte
	apiKeyHash []byte
}

// NewService creates an auth service. An empty apiKeyHash leaves the host
// API open, which is only meant for local development.
func NewService(jwtSecret, apiKeyHash string) *Service {
	s := &Service{jwtSecret: []byte(jwtSecret)}
	if apiKeyHash != "" {
		s.apiKeyHash = []byte(apiKeyHash)
	}
	return s
}

// HashAPIKey returns the bcrypt hash to put in HOST_API_KEY_HASH.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// HostAPIOpen reports whether host routes skip the key check.
func (s *Service) HostAPIOpen() bool {
	return s.apiKeyHash == nil
}

// CheckAPIKey compares key against the configured hash.
func (s *Service) CheckAPIKey(key string) error {
	if s.HostAPIOpen() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// IssueSessionToken signs a token that lets one editor connect to sessionID.
func (s *Service) IssueSessionToken(sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": sessionID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(sessionTokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ValidateToken returns the session id the token was issued for.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}

	sessionID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return sessionID, nil
}
