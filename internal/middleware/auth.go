package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/muranga-mess/api/internal/auth"
	"github.com/muranga-mess/api/internal/enum"
)

type contextKey string

const claimsKey contextKey = "claims"

var (
	errNoCredentials = errors.New("missing authorization header")
	errBadScheme     = errors.New("invalid authorization format")
)

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", errBadScheme
	}
	return strings.TrimSpace(token), nil
}

// Authenticate admits staff holding a valid access token and stores the
// claims in the request context. Students and guests never reach it.
func Authenticate(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			claims, err := auth.ValidateToken(jwtSecret, token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through staff whose role is one of roles. It must run
// after Authenticate. An unknown role is a wiring mistake and panics.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		if !enum.ValidRole(role) {
			panic("middleware: unknown role " + role)
		}
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			switch {
			case claims == nil:
				writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
			case !allowed[claims.Role]:
				writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// StaffID returns the authenticated staff member's id.
func StaffID(ctx context.Context) (uuid.UUID, bool) {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return uuid.Nil, false
	}
	return claims.UserID, true
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: failed to encode JSON response: %v", err)
	}
}
