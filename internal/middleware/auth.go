package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	OwnerKey  contextKey = "owner"
	AdminKey  contextKey = "admin"
	RequestID contextKey = "request_id"
)

var ErrInvalidToken = errors.New("invalid token")

// SignToken issues an HS256 token whose subject is the owner id.
func SignToken(secret []byte, owner int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(owner, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates the signature and returns the owner id from sub.
func ParseToken(secret []byte, raw string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	owner, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || owner <= 0 {
		return 0, fmt.Errorf("%w: subject", ErrInvalidToken)
	}
	return owner, nil
}

// JWTAuth puts the authenticated owner id into the request context.
func JWTAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing Authorization header")
				return
			}
			owner, err := ParseToken(secret, raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), OwnerKey, owner)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OwnerFromContext returns the owner id set by JWTAuth.
func OwnerFromContext(ctx context.Context) (int64, bool) {
	owner, ok := ctx.Value(OwnerKey).(int64)
	return owner, ok && owner > 0
}

// APIKeyAuth guards admin routes. Keys are compared in constant time.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := bearer(r)
			if apiKey == "" {
				apiKey = strings.TrimSpace(r.Header.Get("X-API-Key"))
			}
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
				return
			}

			var admin string
			for name, key := range validKeys {
				if key != "" && subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					admin = name
					break
				}
			}
			if admin == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), AdminKey, admin)))
		})
	}
}

// AdminFromContext returns the key name that authenticated the request.
func AdminFromContext(ctx context.Context) string {
	if admin, ok := ctx.Value(AdminKey).(string); ok {
		return admin
	}
	return ""
}

// Support both "Bearer <token>" and "<token>" formats
func bearer(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		auth = auth[7:]
	}
	return strings.TrimSpace(auth)
}
