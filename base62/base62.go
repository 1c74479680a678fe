// Package base62 converts byte strings to and from a positional base-62 numeral.
//
// The input is read as a big-endian base-256 number and re-expressed in base 62
// by repeated long division. Each leading zero byte maps to exactly one leading
// zero symbol so the conversion is lossless for inputs such as []byte{0, 0, 5}.
package base62

import (
	"errors"
	"fmt"
)

// ErrInvalidCharacter is returned when decoding meets a symbol outside the alphabet
var ErrInvalidCharacter = errors.New("base62: invalid character")

// Encode converts bin to a base-62 string using alphabet
func Encode(bin []byte, alphabet *Alphabet) string {
	zeros := 0
	for zeros < len(bin) && bin[zeros] == 0 {
		zeros++
	}

	// digits are collected least significant first
	digits := divideAll(bin[zeros:], 256, Radix)

	out := make([]byte, zeros+len(digits))
	for i := 0; i < zeros; i++ {
		out[i] = alphabet.encode[0]
	}
	for i, d := range digits {
		out[len(out)-1-i] = alphabet.encode[d]
	}

	return string(out)
}

// Decode converts a base-62 string produced by Encode back to bytes
func Decode(str string, alphabet *Alphabet) ([]byte, error) {
	if len(str) == 0 {
		return []byte{}, nil
	}

	values := make([]byte, len(str))
	for i := 0; i < len(str); i++ {
		c := str[i]
		if c >= 128 || alphabet.decode[c] == -1 {
			return nil, fmt.Errorf("%w %q at position %d", ErrInvalidCharacter, c, i)
		}
		values[i] = byte(alphabet.decode[c])
	}

	zeros := 0
	for zeros < len(values) && values[zeros] == 0 {
		zeros++
	}

	digits := divideAll(values[zeros:], Radix, 256)

	out := make([]byte, zeros+len(digits))
	for i, d := range digits {
		out[len(out)-1-i] = d
	}

	return out, nil
}

// divideAll re-expresses num, a big-endian numeral in base from with no leading
// zero digits, in base to. It returns the digits least significant first.
func divideAll(num []byte, from, to int) []byte {
	if len(num) == 0 {
		return nil
	}

	quotient := make([]byte, len(num))
	copy(quotient, num)

	out := make([]byte, 0, len(num)*2)
	for len(quotient) > 0 {
		var rem byte
		quotient, rem = divide(quotient, from, to)
		out = append(out, rem)
	}

	return out
}

// divide performs one long division of num (base from, big-endian) by divisor,
// writing the quotient in place and trimming its leading zero digits.
func divide(num []byte, from, divisor int) ([]byte, byte) {
	rem := 0
	for i, d := range num {
		acc := rem*from + int(d)
		num[i] = byte(acc / divisor)
		rem = acc % divisor
	}

	start := 0
	for start < len(num) && num[start] == 0 {
		start++
	}

	return num[start:], byte(rem)
}
