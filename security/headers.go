package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets the response headers every OAuth endpoint carries.
// Responses hold credentials, so caching is disabled and framing is denied.
func SetSecurityHeaders(w http.ResponseWriter, issuer string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	w.Header().Set("Referrer-Policy", "no-referrer")

	// HSTS only when the issuer itself is HTTPS
	if parsed, err := url.Parse(issuer); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
