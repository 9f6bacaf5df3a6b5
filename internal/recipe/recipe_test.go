package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSet map[string]bool

func (s testSet) Has(id string) bool { return s[id] }

func materialsABC() testSet {
	return testSet{"A": true, "B": true, "C": true}
}

func TestParseValid(t *testing.T) {
	r, err := Parse("A,50:B,120:C,200", materialsABC())
	require.NoError(t, err)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Layer: 50, Material: "A"}, entries[0])
	assert.Equal(t, Entry{Layer: 120, Material: "B"}, entries[1])
	assert.Equal(t, Entry{Layer: 200, Material: "C"}, entries[2])
}

func TestParseSingleEntry(t *testing.T) {
	r, err := Parse("A,1", materialsABC())
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

func TestParseTrimsWhitespace(t *testing.T) {
	r, err := Parse("  A, 50 :B , 120 ", materialsABC())
	require.NoError(t, err)
	assert.Equal(t, "A,50:B,120", r.Serialize())
}

func TestSerializeRoundTrip(t *testing.T) {
	texts := []string{
		"A,50",
		"A,50:B,120",
		"A,50:B,120:C,200",
		"C,1:A,2:B,3",
	}

	for _, text := range texts {
		r, err := Parse(text, materialsABC())
		require.NoError(t, err, text)
		assert.Equal(t, text, r.Serialize(), text)

		again, err := Parse(r.Serialize(), materialsABC())
		require.NoError(t, err)
		assert.Equal(t, r.Entries(), again.Entries())
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"duplicate layer", "A,50:B,50"},
		{"non-increasing", "B,120:A,50"},
		{"unknown material", "X,10"},
		{"zero layer", "A,0"},
		{"negative layer", "A,-5"},
		{"missing layer", "A"},
		{"missing material", ",50"},
		{"non-numeric layer", "A,ten"},
		{"too many fields", "A,10,20"},
		{"wrong separator", "A;10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text, materialsABC())
			require.Error(t, err)

			var parseErr *ParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	r, err := Parse("A,50:B,120", materialsABC())
	require.NoError(t, err)

	entries := r.Entries()
	entries[0].Layer = 999

	assert.Equal(t, 50, r.Entries()[0].Layer)
}
