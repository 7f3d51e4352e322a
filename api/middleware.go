/*
middleware.go - Authentication middleware

The core trusts the identity this middleware produces and performs no
credential checks of its own. Tokens are HS256 JWTs; the subject claim
becomes the acting user for every operation in the request.

DEV MODE:
  With no signing secret configured, the X-User-Id header is accepted
  directly. Local tooling and tests use this; production deployments
  must configure a secret.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// identityKey is a private context key type to avoid collisions.
type identityKey struct{}

// Authenticator validates bearer tokens and injects the verified user
// identity into the request context.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator. An empty secret enables
// dev mode.
func NewAuthenticator(secret string) *Authenticator {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	return &Authenticator{secret: key}
}

// Middleware rejects requests without a verifiable identity.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.identify(r)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID)))
	})
}

func (a *Authenticator) identify(r *http.Request) (string, error) {
	if a.secret == nil {
		if userID := r.Header.Get("X-User-Id"); userID != "" {
			return userID, nil
		}
		return "", fmt.Errorf("missing X-User-Id header")
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing bearer token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// WithIdentity returns ctx carrying the verified user identity.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityKey{}, userID)
}

// IdentityFromContext retrieves the verified user identity, or "" if
// the request never passed the middleware.
func IdentityFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(identityKey{}).(string)
	return userID
}
