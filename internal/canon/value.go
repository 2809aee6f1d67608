package canon

import (
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Value is a sealed interface over the types permitted in canonical
// documents. Only String, Int, Bool, Decimal, Array and Object implement it.
// There is deliberately no raw float variant: floats enter as Decimal.
type Value interface {
	canonValue() // sealed
}

// String is a canonical string value. NFC-normalized at encode time.
type String string

func (String) canonValue() {}

// Int is a canonical integer value. Always int64, never float64.
type Int int64

func (Int) canonValue() {}

// Bool is a canonical boolean value.
type Bool bool

func (Bool) canonValue() {}

// Decimal is a canonical numeric literal, stored pre-formatted so that the
// same number always serializes to the same bytes. Construct via
// DecimalFromFloat or ParseDecimal; the zero value is invalid.
type Decimal string

func (Decimal) canonValue() {}

// DecimalFromFloat formats f as a shortest-round-trip decimal literal.
// NaN and infinities are not representable in JSON and return an error.
func DecimalFromFloat(f float64) (Decimal, error) {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if s == "NaN" || s == "+Inf" || s == "-Inf" {
		return "", fmt.Errorf("canon: %s is not representable", s)
	}
	return Decimal(s), nil
}

// ParseDecimal validates that s is a well-formed number literal.
func ParseDecimal(s string) (Decimal, error) {
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", fmt.Errorf("canon: invalid decimal %q: %w", s, err)
	}
	return Decimal(s), nil
}

// Float returns the numeric value of the literal.
func (d Decimal) Float() float64 {
	f, _ := strconv.ParseFloat(string(d), 64)
	return f
}

// Array is an ordered list of canonical values.
type Array []Value

func (Array) canonValue() {}

// Object is a map of string keys to canonical values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonValue() {}

// SortedKeys returns the object's keys in RFC 8785 order: sorted by
// UTF-16 code units, not UTF-8 bytes. The two orders differ for keys
// containing supplementary-plane characters.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// compareUTF16 compares two strings by UTF-16 code units.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}
