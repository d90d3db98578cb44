package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/classguard/monitor/logger"
)

type contextKey string

const claimsKey contextKey = "claims"

// loginRequest is the /api/login body.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin checks the credentials against the configured users and issues
// a signed token carrying the user's role.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for _, u := range s.cfg.Auth.Users {
		if u.Username != req.Username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			break
		}

		token, err := s.generateToken(u.Username, u.Role)
		if err != nil {
			logger.Error("failed to sign token for %s: %v", u.Username, err)
			writeError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"token": token,
			"role":  u.Role,
		})
		return
	}

	logger.Warn("failed login attempt for user %q", req.Username)
	writeError(w, http.StatusUnauthorized, "invalid username or password")
}

func (s *Server) generateToken(username, role string) (string, error) {
	ttl := s.cfg.Auth.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": role,
		"exp":  time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(s.cfg.Auth.JWTSecret))
}

// validateToken parses and verifies a token string.
func (s *Server) validateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.Auth.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// authDisabled reports whether the API runs open (no users configured).
func (s *Server) authDisabled() bool {
	return len(s.cfg.Auth.Users) == 0
}

// auth verifies the bearer token and attaches its claims to the request
// context. With no users configured the API runs open.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authDisabled() {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "authorization header missing")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			writeError(w, http.StatusUnauthorized, "invalid token format")
			return
		}

		claims, err := s.validateToken(tokenString)
		if err != nil {
			logger.Warn("token rejected: %v", err)
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// admin additionally requires the admin role.
func (s *Server) admin(next http.Handler) http.Handler {
	return s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authDisabled() {
			next.ServeHTTP(w, r)
			return
		}

		claims, ok := r.Context().Value(claimsKey).(jwt.MapClaims)
		if !ok || claims["role"] != "admin" {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
