package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ValidSig checks the widget request signature: a hex HMAC-SHA256 of the
// clinic slug under the deployment's signing secret. The signature rides in
// the request body, so handlers call this after decoding rather than a
// wrapping middleware. An empty secret disables verification for local
// development.
func ValidSig(secret, clinicSlug, sig string) bool {
	if secret == "" {
		return true
	}
	if sig == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clinicSlug))
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(sig))
}

// Sign produces the signature ValidSig expects, for the widget loader.
func Sign(secret, clinicSlug string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clinicSlug))
	return hex.EncodeToString(mac.Sum(nil))
}
