// Package hasher provides the keyed MAC primitives used to sign payment invariants.
//
// A KeyedHasher builds a fresh MAC per call from a private copy of the key and
// zeroes that copy before returning, so no key material outlives a single Sum.
package hasher

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// ErrUnsupportedAlgorithm is returned for algorithm names this package does not know
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Algorithm names a supported keyed MAC
type Algorithm string

const (
	// HMACSHA256 is HMAC over SHA-256, 32-byte digests
	HMACSHA256 Algorithm = "hmac-sha256"
	// HMACSHA512 is HMAC over SHA-512, 64-byte digests
	HMACSHA512 Algorithm = "hmac-sha512"
	// HMACSHA3_256 is HMAC over SHA3-256, 32-byte digests
	HMACSHA3_256 Algorithm = "hmac-sha3-256"
	// Blake3 is keyed BLAKE3 with a derived 32-byte key, 32-byte digests
	Blake3 Algorithm = "blake3"
)

// DefaultAlgorithm is used when configuration does not name one
const DefaultAlgorithm = HMACSHA256

const blake3KeyContext = "easy-webhook 2024 invariant authorization key"

// KeyedHasher computes a fixed-length keyed digest
type KeyedHasher interface {
	// Algorithm returns the algorithm name
	Algorithm() Algorithm

	// Size returns the digest length in bytes
	Size() int

	// Sum returns the MAC of data under key
	Sum(key, data []byte) []byte
}

type macHasher struct {
	algorithm Algorithm
	size      int
	newMAC    func(key []byte) hash.Hash
}

// New returns the KeyedHasher for algorithm
func New(algorithm Algorithm) (KeyedHasher, error) {
	switch algorithm {
	case HMACSHA256:
		return &macHasher{algorithm: algorithm, size: sha256.Size, newMAC: hmacFactory(sha256.New)}, nil
	case HMACSHA512:
		return &macHasher{algorithm: algorithm, size: sha512.Size, newMAC: hmacFactory(sha512.New)}, nil
	case HMACSHA3_256:
		return &macHasher{algorithm: algorithm, size: 32, newMAC: hmacFactory(sha3.New256)}, nil
	case Blake3:
		return &macHasher{algorithm: algorithm, size: 32, newMAC: blake3Keyed}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

// Default returns the HMAC-SHA256 hasher
func Default() KeyedHasher {
	h, _ := New(DefaultAlgorithm)
	return h
}

// Parse resolves a configured algorithm name, empty meaning the default
func Parse(name string) (KeyedHasher, error) {
	if name == "" {
		return Default(), nil
	}
	return New(Algorithm(name))
}

func (m *macHasher) Algorithm() Algorithm { return m.algorithm }

func (m *macHasher) Size() int { return m.size }

func (m *macHasher) Sum(key, data []byte) []byte {
	scratch := make([]byte, len(key))
	copy(scratch, key)
	defer Zero(scratch)

	mac := m.newMAC(scratch)
	mac.Write(data)
	return mac.Sum(nil)
}

func hmacFactory(h func() hash.Hash) func(key []byte) hash.Hash {
	return func(key []byte) hash.Hash {
		return hmac.New(h, key)
	}
}

// blake3Keyed derives a 32-byte key from arbitrary-length key material since
// blake3 keyed mode only accepts 32-byte keys.
func blake3Keyed(key []byte) hash.Hash {
	derived := make([]byte, 32)
	blake3.DeriveKey(derived, blake3KeyContext, key)
	h := blake3.New(32, derived)
	Zero(derived)
	return h
}

// Zero overwrites b with zeros
func Zero(b []byte) {
	clear(b)
}
