package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookie = "ingestx_session"

type ownerKey struct{}

// ValidateToken checks if the Authorization header contains a valid AdminToken
func (c *Controller) ValidateToken(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return c.AdminToken != "" && token == c.AdminToken
	}
	return false
}

// sessionClaims returns the claims of a valid session cookie.
func (c *Controller) sessionClaims(r *http.Request) (jwt.MapClaims, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	tok, err := jwt.Parse(cookie.Value,
		func(t *jwt.Token) (any, error) { return c.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	return claims, ok
}

// RequireAuth accepts the admin bearer token or a session cookie. The token and admin
// sessions see every tenant; other sessions are scoped to their subject.
func (c *Controller) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, "")))
			return
		}
		if claims, ok := c.sessionClaims(r); ok {
			owner, _ := claims["sub"].(string)
			if role, _ := claims["role"].(string); role == "admin" {
				owner = ""
			} else if owner == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// owner returns the tenant the request is scoped to. Empty means unrestricted.
func owner(r *http.Request) string {
	o, _ := r.Context().Value(ownerKey{}).(string)
	return o
}
