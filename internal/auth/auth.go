// Package auth secures the admin API with JWT bearer tokens backed by
// the user accounts in the store.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"token-warden/internal/common/errors"
	"token-warden/internal/store"
)

const tokenLifetime = 24 * time.Hour

type Claims struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	IsDefault bool   `json:"is_default"`
	jwt.RegisteredClaims
}

type Auth struct {
	store  store.Store
	secret []byte
}

func New(st store.Store, secret string) *Auth {
	return &Auth{store: st, secret: []byte(secret)}
}

// Login validates the credentials and issues a signed token.
func (a *Auth) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := a.store.ValidateUser(ctx, username, password)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	claims := &Claims{
		UserID:    user.ID,
		Username:  user.Username,
		IsDefault: user.IsDefault,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "token-warden",
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, errors.Internal("failed to sign token", err)
	}
	return signed, user, nil
}

// Validate parses and verifies a token string.
func (a *Auth) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Auth("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.Auth("invalid or expired token")
	}
	return claims, nil
}

type contextKey string

const claimsKey contextKey = "auth_claims"

// ClaimsFromContext returns the claims attached by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}

// Middleware rejects requests without a valid bearer token and attaches
// the verified claims to the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w)
			return
		}

		claims, err := a.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "authentication required"}`))
}
