package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"runtimed/internal/auth"
	"runtimed/pkg/api"
)

// RequireInternalAuth middleware ensures the request carries the shared internal token.
// Kernel adapters present it on heartbeat and result calls. An empty token disables the check.
func RequireInternalAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		verifier := auth.NewVerifier(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}

			scheme, presented, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			if !verifier.Verify(presented) {
				unauthorized(w, "Invalid authorization token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: "unauthorized"})
}
