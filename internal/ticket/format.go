// Package ticket defines the printed identifier format and the QR payload
// that carries it.
package ticket

import (
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
)

// Alphabet is the fixed suffix alphabet. Printed tickets depend on it.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	DefaultPrefix = "AIK"
	DefaultLength = 6
)

// Format describes identifiers of the form PREFIX-XXXXXX.
type Format struct {
	prefix  string
	length  int
	pattern *regexp.Regexp
}

// NewFormat validates prefix and suffix length and compiles the matcher.
func NewFormat(prefix string, length int) (Format, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return Format{}, fmt.Errorf("identifier prefix is required")
	}
	if strings.Contains(prefix, "-") {
		return Format{}, fmt.Errorf("identifier prefix %q must not contain '-'", prefix)
	}
	if length < 1 || length > 12 {
		return Format{}, fmt.Errorf("identifier length must be between 1 and 12, got %d", length)
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s-[A-Z0-9]{%d}$`, regexp.QuoteMeta(prefix), length))
	return Format{prefix: prefix, length: length, pattern: pattern}, nil
}

// DefaultFormat returns the AIK-XXXXXX format.
func DefaultFormat() Format {
	f, err := NewFormat(DefaultPrefix, DefaultLength)
	if err != nil {
		panic(err)
	}
	return f
}

// Prefix returns the upper-case prefix without the separator.
func (f Format) Prefix() string { return f.prefix }

// Length returns the suffix length.
func (f Format) Length() int { return f.length }

// Match reports whether s is exactly a well-formed identifier.
// No normalisation is applied.
func (f Format) Match(s string) bool {
	return f.pattern != nil && f.pattern.MatchString(s)
}

// Normalize trims and upper-cases s and returns it when the result is a
// well-formed identifier.
func (f Format) Normalize(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if !f.Match(s) {
		return "", false
	}
	return s, true
}

// Space is the number of distinct identifiers the format can express,
// saturated at math.MaxInt64.
func (f Format) Space() int64 {
	space := int64(1)
	base := int64(len(Alphabet))
	for i := 0; i < f.length; i++ {
		if space > math.MaxInt64/base {
			return math.MaxInt64
		}
		space *= base
	}
	return space
}

// Generator draws random identifiers in a Format.
type Generator struct {
	format Format
	rand   io.Reader
}

// NewGenerator returns a Generator reading from crypto/rand.
func NewGenerator(format Format) *Generator {
	return &Generator{format: format, rand: rand.Reader}
}

// NewGeneratorFrom returns a Generator reading randomness from r.
func NewGeneratorFrom(format Format, r io.Reader) *Generator {
	return &Generator{format: format, rand: r}
}

// Format returns the generator's format.
func (g *Generator) Format() Format { return g.format }

// maxUnbiased is the largest multiple of len(Alphabet) that fits in a byte.
const maxUnbiased = 256 - 256%len(Alphabet)

// Next returns a fresh candidate. Candidates are not checked for collisions.
func (g *Generator) Next() (string, error) {
	var b strings.Builder
	b.Grow(len(g.format.prefix) + 1 + g.format.length)
	b.WriteString(g.format.prefix)
	b.WriteByte('-')

	buf := make([]byte, 1)
	for n := 0; n < g.format.length; {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("read randomness: %w", err)
		}
		// Rejection sampling keeps every character equally likely.
		if int(buf[0]) >= maxUnbiased {
			continue
		}
		b.WriteByte(Alphabet[int(buf[0])%len(Alphabet)])
		n++
	}
	return b.String(), nil
}
