package authorization

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// NonceSize is the number of random bytes behind a nonce
const NonceSize = 16

// NewNonce returns a random base58 nonce suitable for a callback URL
func NewNonce() (string, error) {
	buf := make([]byte, NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}
	return base58.Encode(buf), nil
}
