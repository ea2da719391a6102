package auth

import (
	"crypto/rand"
	"fmt"
)

// chars excludes visually ambiguous characters (0/1/l/o).
const chars = "23456789abcdefghijkmnpqrstuvwxyz"

// NewChallenge returns a random string of length n over the restricted
// alphabet. Values must be fresh per connection; reuse permits replay.
func NewChallenge(n int) (string, error) {
	if n <= 0 {
		n = 6
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	for i := range buf {
		buf[i] = chars[int(buf[i])%len(chars)]
	}
	return string(buf), nil
}
