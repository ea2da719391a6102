package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HashPassword computes the two-stage login hash:
// inner = SHA256(plaintext || salt), outer = SHA256(inner || challenge).
// The peer submits outer; the salt is long-lived while the challenge is
// fresh per connection.
func HashPassword(plaintext, salt, challenge string) []byte {
	inner := sha256.New()
	inner.Write([]byte(plaintext))
	inner.Write([]byte(salt))

	outer := sha256.New()
	outer.Write(inner.Sum(nil))
	outer.Write([]byte(challenge))
	return outer.Sum(nil)
}

// ValidatePassword compares the peer-submitted hash against a candidate
// plaintext in constant time. An empty candidate never validates.
func ValidatePassword(plaintext, salt, challenge string, submitted []byte) bool {
	if len(plaintext) == 0 {
		return false
	}
	expected := HashPassword(plaintext, salt, challenge)
	return subtle.ConstantTimeCompare(expected, submitted) == 1
}
