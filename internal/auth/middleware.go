package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HostMiddleware guards the host API with a bearer API key.
func (s *Service) HostMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.HostAPIOpen() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
			return
		}

		if err := s.CheckAPIKey(parts[1]); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthorizeSession checks that token was issued for sessionID.
func (s *Service) AuthorizeSession(token, sessionID string) error {
	if token == "" {
		return ErrInvalidToken
	}
	sub, err := s.ValidateToken(token)
	if err != nil {
		return err
	}
	if sub != sessionID {
		return ErrInvalidToken
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
