// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"deployplane/internal/auth"
)

// AdminTokenHeader carries the operator token on /admin requests.
const AdminTokenHeader = "X-Admin-Token"

// RequireAdmin guards operator endpoints. When allowedIPs is non-empty the
// caller's address (direct, or the first X-Forwarded-For / X-Real-IP hop)
// must be listed. An empty token turns the token check off.
func RequireAdmin(token string, allowedIPs []string) func(http.Handler) http.Handler {
	secret := auth.NewSecret(token)
	allowed := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allowed[ip] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) > 0 {
				_, direct := allowed[remoteIP(r)]
				_, forwarded := allowed[clientIP(r)]
				if !direct && !forwarded {
					http.Error(w, "admin forbidden: ip not allowed", http.StatusForbidden)
					return
				}
			}

			if secret.Set() {
				if !secret.Matches(r.Header.Get(AdminTokenHeader)) {
					http.Error(w, "admin unauthorized", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return remoteIP(r)
}
