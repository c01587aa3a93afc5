package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := extractClaims(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthIfEnabled only checks tokens when a signing secret is configured.
func RequireAuthIfEnabled(next http.Handler) http.Handler {
	protected := RequireAuth(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

func RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractClaims(r)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			role, ok := claims["role"].(string)
			if !ok || role != requiredRole {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func GetSubjectFromRequest(r *http.Request) (string, error) {
	claims, err := extractClaims(r)
	if err != nil {
		return "", err
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errors.New("auth: token has no subject")
	}
	return subject, nil
}

func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func extractClaims(r *http.Request) (jwt.MapClaims, error) {
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, errors.New("auth: missing or malformed Authorization header")
	}
	return ValidateJWT(token)
}
