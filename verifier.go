package easywebhook

import (
	"errors"
	"fmt"

	"github.com/dawitel/easy-webhook/authorization"
	"github.com/dawitel/easy-webhook/base62"
	"github.com/dawitel/easy-webhook/hasher"
	"github.com/dawitel/easy-webhook/invariant"
)

// ErrInvalidAuthorization is returned when a token pair does not match
var ErrInvalidAuthorization = errors.New("invalid authorization")

// Verifier signs and verifies invariants with the configured signing key
type Verifier struct {
	signer *authorization.Signer
	secret string
}

// NewVerifier creates a new verifier
func NewVerifier(signer *authorization.Signer, secret string) *Verifier {
	return &Verifier{
		signer: signer,
		secret: secret,
	}
}

// NewVerifierFromConfig builds the signer described by cfg
func NewVerifierFromConfig(cfg *Config) (*Verifier, error) {
	h, err := hasher.Parse(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	alphabet, err := base62.AlphabetByName(cfg.Alphabet)
	if err != nil {
		return nil, err
	}

	signer := authorization.NewSigner(h,
		authorization.WithAlphabet(alphabet),
		authorization.WithRequiredNonce(cfg.RequireNonce),
	)
	return NewVerifier(signer, cfg.SigningKey), nil
}

// Signer returns the underlying signer
func (v *Verifier) Signer() *authorization.Signer {
	return v.signer
}

// Sign computes the authorization header for inv
func (v *Verifier) Sign(inv invariant.Invariant) (authorization.Header, error) {
	key := []byte(v.secret)
	defer hasher.Zero(key)

	return v.signer.Create(key, inv)
}

// Verify checks a received token pair against inv. Precondition failures are
// returned as-is; a mismatch is ErrInvalidAuthorization.
func (v *Verifier) Verify(inv invariant.Invariant, token, complement string) error {
	if token == "" {
		return fmt.Errorf("authorization header is missing")
	}

	key := []byte(v.secret)
	defer hasher.Zero(key)

	ok, err := v.signer.Validate(key, inv, token, complement)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidAuthorization
	}

	return nil
}
