package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// CSRFHeader carries the token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// GenerateCSRFToken returns 32 random bytes, hex encoded.
func GenerateCSRFToken() (string, error) {
	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(randomBytes), nil
}

// CheckCSRFToken reports whether the request carries a CSRF header and, when
// a csrf_token cookie is present, whether the two match (double submit).
func CheckCSRFToken(r *http.Request) bool {
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return false
	}
	cookie, err := GetCSRFTokenCookie(r)
	if err != nil {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(header), []byte(cookie)) == 1
}
