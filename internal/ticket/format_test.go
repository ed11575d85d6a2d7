package ticket

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormat(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		length  int
		wantErr bool
	}{
		{name: "default", prefix: "AIK", length: 6},
		{name: "lower-case prefix is normalised", prefix: " pfx ", length: 6},
		{name: "empty prefix", prefix: "", length: 6, wantErr: true},
		{name: "prefix with separator", prefix: "A-B", length: 6, wantErr: true},
		{name: "zero length", prefix: "AIK", length: 0, wantErr: true},
		{name: "too long", prefix: "AIK", length: 13, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFormat(tt.prefix, tt.length)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFormatMatch(t *testing.T) {
	f, err := NewFormat("PFX", 6)
	require.NoError(t, err)

	assert.True(t, f.Match("PFX-AAA111"))
	assert.True(t, f.Match("PFX-000000"))

	for _, s := range []string{
		"",
		"PFX-AAA11",
		"PFX-AAA1111",
		"pfx-aaa111",
		"PFX_AAA111",
		"XPFX-AAA111",
		"PFX-AAA11!",
		" PFX-AAA111",
		"not-a-real-code",
	} {
		assert.False(t, f.Match(s), "Match(%q)", s)
	}
}

func TestFormatNormalize(t *testing.T) {
	f := DefaultFormat()

	got, ok := f.Normalize("  aik-7qx2m9\n")
	require.True(t, ok)
	assert.Equal(t, "AIK-7QX2M9", got)

	_, ok = f.Normalize("AIK 7QX2M9")
	assert.False(t, ok)
}

func TestFormatSpace(t *testing.T) {
	f, err := NewFormat("AIK", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(36*36), f.Space())

	assert.Equal(t, int64(2176782336), DefaultFormat().Space())
}

func TestGeneratorProducesWellFormedIdentifiers(t *testing.T) {
	f := DefaultFormat()
	g := NewGenerator(f)

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		id, err := g.Next()
		require.NoError(t, err)
		require.True(t, f.Match(id), "generated %q", id)
		seen[id] = struct{}{}
	}
	// 500 draws from 36^6 values; a repeat here means the source is broken.
	assert.Len(t, seen, 500)
}

func TestGeneratorRejectsBiasedBytes(t *testing.T) {
	f, err := NewFormat("T", 3)
	require.NoError(t, err)

	// 255 and 252 fall outside the unbiased range and must be skipped.
	src := bytes.NewReader([]byte{255, 0, 252, 1, 35})
	g := NewGeneratorFrom(f, src)

	id, err := g.Next()
	require.NoError(t, err)
	assert.Equal(t, "T-AB9", id)
}

func TestGeneratorShortRead(t *testing.T) {
	g := NewGeneratorFrom(DefaultFormat(), strings.NewReader("ab"))
	_, err := g.Next()
	assert.Error(t, err)
}
