package otp

import (
	"fmt"
	"math"

	"github.com/pquerna/otp"
	"github.com/samber/lo"
)

// DefaultAlphabet is the 36-symbol alphabet used when none is configured.
// The order matters: the index of each symbol is the digit value it encodes.
const DefaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Renderer turns the 31-bit truncated HMAC value into a code of exactly
// length symbols.
type Renderer interface {
	Render(value uint32, length int) string
}

// Alphabet renders codes as base-B numerals, B being the number of symbols.
// Symbol 0 is also the padding symbol.
type Alphabet []rune

// NewAlphabet builds an Alphabet from an ordered set of unique symbols.
func NewAlphabet(symbols string) (Alphabet, error) {
	a := Alphabet(symbols)
	if len(a) < 2 {
		return nil, fmt.Errorf("%w: alphabet must have at least 2 symbols, got %d", ErrInvalidConfig, len(a))
	}
	if dups := lo.FindDuplicates(a); len(dups) > 0 {
		return nil, fmt.Errorf("%w: alphabet contains duplicate symbol %q", ErrInvalidConfig, dups[0])
	}
	return a, nil
}

// Render writes value in base len(a), most significant digit first, taking
// exactly length remainders. Digits above length are dropped and missing
// ones become a[0].
func (a Alphabet) Render(value uint32, length int) string {
	base := uint32(len(a))
	out := make([]rune, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = a[value%base]
		value /= base
	}
	return string(out)
}

// Contains reports whether every symbol of code belongs to the alphabet.
func (a Alphabet) Contains(code string) bool {
	for _, r := range code {
		if !lo.Contains(a, r) {
			return false
		}
	}
	return true
}

func (a Alphabet) String() string {
	return string(a)
}

// Decimal renders standard RFC 4226 codes: value mod 10^length, zero-filled.
type Decimal struct{}

// Render implements Renderer.
func (Decimal) Render(value uint32, length int) string {
	v := uint64(value)
	if length < 10 {
		v %= uint64(math.Pow10(length))
	}
	return otp.Digits(length).Format(int32(v))
}

var (
	_ Renderer = Alphabet(nil)
	_ Renderer = Decimal{}
)
