package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/famcal/internal/auth"
)

// Claims is the bearer token payload. The subject is the user id.
type Claims struct {
	FamilyID string `json:"family_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for the user. Used by tooling and tests;
// production tokens come from the identity service sharing the secret.
func IssueToken(secret []byte, userID, familyID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		FamilyID: familyID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken verifies an HS256 token and returns its auth context.
func ParseToken(secret []byte, raw string) (auth.AuthContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return auth.AuthContext{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return auth.AuthContext{}, errors.New("token has no subject")
	}
	return auth.AuthContext{UserID: claims.Subject, FamilyID: claims.FamilyID, Role: claims.Role}, nil
}

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter for WebSocket upgrades, which cannot set
// headers from a browser.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// RequireAuth validates the bearer token and populates AuthContext.
func RequireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			ac, err := ParseToken(secret, raw)
			if err != nil {
				unauthorized(w, "invalid bearer token")
				return
			}
			noteCaller(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "AUTHENTICATION_ERROR"})
}
