package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS adds Strict-Transport-Security header to enforce HTTPS
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Add HSTS header: enforce HTTPS for 1 year, including all subdomains
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// RequireHTTPS redirects HTTP requests to HTTPS.
// Only for when the process terminates TLS itself. Hosts outside
// allowedHosts get a 400 instead of a redirect.
func RequireHTTPS(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isHTTPS := r.TLS != nil ||
				r.Header.Get("X-Forwarded-Proto") == "https" ||
				r.URL.Scheme == "https"

			if isHTTPS {
				next.ServeHTTP(w, r)
				return
			}

			if !IsHostAllowed(r.Host, allowedHosts) {
				http.Error(w, "Invalid host", http.StatusBadRequest)
				return
			}

			http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
		})
	}
}

// IsHostAllowed validates a host against the allowed hosts list, ignoring ports.
// Returns true if no allowed hosts are configured.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	name := hostname(host)
	for _, allowed := range allowedHosts {
		if name == hostname(allowed) {
			return true
		}
	}
	return false
}

// hostname lower-cases host and strips any port and IPv6 brackets.
func hostname(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
