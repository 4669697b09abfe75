package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"deployplane/internal/auth"
	"deployplane/pkg/api"
)

// RequireInternalAuth guards the runner, node agent and app endpoints with
// the shared secret, sent as "Authorization: Bearer <secret>". An empty
// secret turns the check off, which is only meant for local development.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	secret := auth.NewSecret(systemSecret)
	return func(next http.Handler) http.Handler {
		if !secret.Set() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, err := bearerToken(r)
			if err != "" {
				unauthorized(w, err)
				return
			}
			if !secret.Matches(presented) {
				unauthorized(w, "invalid internal secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken returns the token of a well-formed Bearer header, or a reason
// the header was rejected.
func bearerToken(r *http.Request) (string, string) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", "missing authorization header"
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" || strings.ContainsAny(token, " \t") {
		return "", "malformed authorization header"
	}
	return token, ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="deployplane"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: msg, Code: "unauthorized"})
}
