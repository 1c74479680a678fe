package base62

import "fmt"

// Radix of the encoded representation
const Radix = 62

// Alphabet maps digit values to symbols and back
type Alphabet struct {
	decode [128]int8
	encode [Radix]byte
}

// DefaultAlphabet orders digits, then uppercase, then lowercase letters
var DefaultAlphabet = NewAlphabet("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// InvertedAlphabet orders digits, then lowercase, then uppercase letters
var InvertedAlphabet = NewAlphabet("0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

// NewAlphabet builds an Alphabet from a string of 62 distinct ASCII symbols.
// It panics on malformed input since alphabets are package-level constants.
func NewAlphabet(s string) *Alphabet {
	if len(s) != Radix {
		panic(fmt.Sprintf("base62 alphabet must be %d bytes long, got %d", Radix, len(s)))
	}

	ret := new(Alphabet)
	copy(ret.encode[:], s)
	for i := range ret.decode {
		ret.decode[i] = -1
	}

	for i, b := range ret.encode {
		if b >= 128 {
			panic(fmt.Sprintf("base62 alphabet symbol %q is not ASCII", b))
		}
		if ret.decode[b] != -1 {
			panic(fmt.Sprintf("base62 alphabet symbol %q is repeated", b))
		}
		ret.decode[b] = int8(i)
	}

	return ret
}

// String returns the symbols in digit order
func (a *Alphabet) String() string {
	return string(a.encode[:])
}

// Zero returns the symbol for digit value zero
func (a *Alphabet) Zero() byte {
	return a.encode[0]
}

// Contains reports whether every byte of s is a symbol of the alphabet
func (a *Alphabet) Contains(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 128 || a.decode[c] == -1 {
			return false
		}
	}
	return true
}

// AlphabetByName resolves "default" or "inverted"
func AlphabetByName(name string) (*Alphabet, error) {
	switch name {
	case "", "default":
		return DefaultAlphabet, nil
	case "inverted":
		return InvertedAlphabet, nil
	default:
		return nil, fmt.Errorf("unknown base62 alphabet: %s", name)
	}
}
