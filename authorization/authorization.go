// Package authorization derives and checks the webhook authorization token.
//
// The token is the base-62 encoding of a keyed MAC over the canonical bytes of a
// payment invariant. The provider bounds the Authorization header to 32
// characters, so any overflow travels separately as the complement, which the
// provider echoes back through the callback URL.
package authorization

import (
	"crypto/subtle"
	"errors"

	"github.com/dawitel/easy-webhook/base62"
	"github.com/dawitel/easy-webhook/hasher"
	"github.com/dawitel/easy-webhook/invariant"
)

// MaxAuthorizationLength is the provider's ceiling for the Authorization header
const MaxAuthorizationLength = 32

var (
	// ErrMissingKey means no signing key is configured
	ErrMissingKey = errors.New("authorization: signing key is not configured")
	// ErrMissingHasher means no keyed hasher is configured
	ErrMissingHasher = errors.New("authorization: keyed hasher is not configured")
	// ErrMissingNonce means the scheme requires a nonce and the invariant has none
	ErrMissingNonce = errors.New("authorization: nonce is required but missing")
)

// Header is the token pair attached to a webhook registration
type Header struct {
	Authorization string `json:"authorization"`
	// Complement is empty when the encoded digest fits in Authorization
	Complement string `json:"complement,omitempty"`
}

// HasComplement reports whether the digest overflowed into a complement
func (h Header) HasComplement() bool {
	return h.Complement != ""
}

// Full returns the complete encoded digest
func (h Header) Full() string {
	return h.Authorization + h.Complement
}

// Split divides an encoded digest into the header token and its complement
func Split(encoded string) Header {
	if len(encoded) <= MaxAuthorizationLength {
		return Header{Authorization: encoded}
	}
	return Header{
		Authorization: encoded[:MaxAuthorizationLength],
		Complement:    encoded[MaxAuthorizationLength:],
	}
}

// Signer creates and validates authorization headers. It holds no key material
// and is safe for concurrent use.
type Signer struct {
	hasher       hasher.KeyedHasher
	alphabet     *base62.Alphabet
	requireNonce bool
}

// Option configures a Signer
type Option func(*Signer)

// WithAlphabet selects the base-62 alphabet. Both sides must agree on it.
func WithAlphabet(alphabet *base62.Alphabet) Option {
	return func(s *Signer) {
		if alphabet != nil {
			s.alphabet = alphabet
		}
	}
}

// WithRequiredNonce makes a missing nonce a precondition failure
func WithRequiredNonce(required bool) Option {
	return func(s *Signer) {
		s.requireNonce = required
	}
}

// NewSigner creates a Signer using h
func NewSigner(h hasher.KeyedHasher, opts ...Option) *Signer {
	s := &Signer{
		hasher:   h,
		alphabet: base62.DefaultAlphabet,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hasher returns the configured keyed hasher
func (s *Signer) Hasher() hasher.KeyedHasher { return s.hasher }

// Alphabet returns the configured alphabet
func (s *Signer) Alphabet() *base62.Alphabet { return s.alphabet }

// RequiresNonce reports whether invariants must carry a nonce
func (s *Signer) RequiresNonce() bool { return s.requireNonce }

// Create computes the authorization header for inv under key
func (s *Signer) Create(key []byte, inv invariant.Invariant) (Header, error) {
	if err := s.check(key, inv); err != nil {
		return Header{}, err
	}

	digest := s.hasher.Sum(key, invariant.Encode(inv))
	defer hasher.Zero(digest)

	return Split(base62.Encode(digest, s.alphabet)), nil
}

// Validate recomputes the header for inv and compares both parts in constant
// time. A complement present on one side only is a mismatch. Mismatches return
// false with a nil error; errors are reserved for missing preconditions.
func (s *Signer) Validate(key []byte, inv invariant.Invariant, authorization, complement string) (bool, error) {
	expected, err := s.Create(key, inv)
	if err != nil {
		return false, err
	}

	authOK := subtle.ConstantTimeCompare([]byte(authorization), []byte(expected.Authorization))
	complementOK := subtle.ConstantTimeCompare([]byte(complement), []byte(expected.Complement))

	return authOK&complementOK == 1, nil
}

func (s *Signer) check(key []byte, inv invariant.Invariant) error {
	if s == nil || s.hasher == nil {
		return ErrMissingHasher
	}
	if len(key) == 0 {
		return ErrMissingKey
	}
	if s.requireNonce && !inv.HasNonce() {
		return ErrMissingNonce
	}
	return nil
}

// CreateAuthorization computes the header with the default alphabet
func CreateAuthorization(h hasher.KeyedHasher, key []byte, inv invariant.Invariant) (Header, error) {
	return NewSigner(h).Create(key, inv)
}

// ValidateAuthorization checks a received token pair with the default alphabet
func ValidateAuthorization(h hasher.KeyedHasher, key []byte, inv invariant.Invariant, authorization, complement string) (bool, error) {
	return NewSigner(h).Validate(key, inv, authorization, complement)
}
