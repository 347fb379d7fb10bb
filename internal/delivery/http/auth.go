package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errNoAuthenticator = errors.New("authentication not configured")

// Authenticator issues and checks HS256 bearer tokens whose subject is the chat user id.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil for an empty secret; a nil Authenticator rejects every token.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for userID that expires after ttl.
func (a *Authenticator) Issue(userID int64, ttl time.Duration) (string, error) {
	if a == nil {
		return "", errNoAuthenticator
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token string and returns the user id it was issued for.
func (a *Authenticator) Validate(tokenStr string) (int64, error) {
	if a == nil {
		return 0, errNoAuthenticator
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("token subject is not a user id")
	}
	return id, nil
}

// requireUser lets the request through only when the bearer token belongs to the user in the path.
func (h *Handler) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathID, ok := pathUserID(w, r)
		if !ok {
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenID, err := h.auth.Validate(parts[1])
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		if tokenID != pathID {
			http.Error(w, "token does not match user", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}
