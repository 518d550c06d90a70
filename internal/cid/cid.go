// Package cid provides canonicalisation and validation of VATSIM
// controller identifiers. A canonical CID is the decimal string of the
// identifier with no leading zeros, between 3 and 10 digits long.
package cid

import (
	"strconv"
	"strings"

	domerrors "github.com/RealLeviticus/vatpaccurrency/internal/errors"
)

const (
	minDigits = 3
	maxDigits = 10
)

// Normalize strips any non-digit characters from raw and returns the
// canonical CID string. It returns ErrInvalidCID when the digit count
// falls outside the accepted 3-10 range or the value does not parse.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) < minDigits || len(digits) > maxDigits {
		return "", domerrors.ErrInvalidCID
	}

	// Round-trip through an integer to strip leading zeros.
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return "", domerrors.ErrInvalidCID
	}

	canonical := strconv.FormatUint(n, 10)
	if len(canonical) < minDigits {
		return "", domerrors.ErrInvalidCID
	}
	return canonical, nil
}

// IsCanonical reports whether s is already in canonical form.
func IsCanonical(s string) bool {
	c, err := Normalize(s)
	return err == nil && c == s
}
