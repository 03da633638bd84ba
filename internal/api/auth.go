package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken pulls the bearer token from the Authorization header, or an
// empty string when none is present.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// TokenMatches compares a presented token against the expected value in
// constant time.
func TokenMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
