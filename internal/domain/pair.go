// Package domain defines the deal engine data model shared by every layer.
package domain

import (
	"fmt"
	"strings"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// ParsePair parses BASE_QUOTE or BASE/QUOTE notation.
func ParsePair(s string) (Pair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	sep := "_"
	if strings.Contains(s, "/") {
		sep = "/"
	}

	parts := strings.Split(s, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("%w: invalid pair %q, expected BASE_QUOTE", ErrConfig, s)
	}

	return Pair{From: parts[0], To: parts[1]}, nil
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.From == "" && p.To == ""
}

// MarshalText encodes the pair as BASE_QUOTE.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes BASE_QUOTE.
func (p *Pair) UnmarshalText(text []byte) error {
	parsed, err := ParsePair(string(text))
	if err != nil {
		return err
	}
	*p = parsed

	return nil
}
