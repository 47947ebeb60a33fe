package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Lowercase",
			input: "Bohemian Rhapsody",
			want:  "bohemian rhapsody",
		},
		{
			name:  "Parenthetical stripped",
			input: "Hotel California (2013 Remaster)",
			want:  "hotel california",
		},
		{
			name:  "Bracketed stripped",
			input: "One More Time [Radio Edit]",
			want:  "one more time",
		},
		{
			name:  "Dash noise suffix stripped",
			input: "Smells Like Teen Spirit - Remastered 2021",
			want:  "smells like teen spirit",
		},
		{
			name:  "Acronym collapsed",
			input: "P.I.M.P. (Radio Edit) - Remastered 2003",
			want:  "pimp",
		},
		{
			name:  "Feat clause removed",
			input: "Crazy in Love feat Jay-Z",
			want:  "crazy in love jay z",
		},
		{
			name:  "Punctuation to spaces",
			input: "Don't Stop Me Now!",
			want:  "don t stop me now",
		},
		{
			name:  "Whitespace collapsed",
			input: "  so   much    space  ",
			want:  "so much space",
		},
		{
			name:  "Empty",
			input: "",
			want:  "",
		},
		{
			name:  "Only noise",
			input: "(Remastered) [Live]",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.want, got)
			// Running it again must not change the result.
			assert.Equal(t, got, Normalize(got))
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{name: "Identical", a: "night", b: "night", want: 1},
		{name: "Empty left", a: "", b: "night", want: 0},
		{name: "Empty right", a: "night", b: "", want: 0},
		{name: "Single char no bigrams", a: "a", b: "ab", want: 0},
		{name: "Disjoint", a: "abcd", b: "wxyz", want: 0},
		{name: "Half overlap", a: "night", b: "nacht", want: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 0.0001)
		})
	}
}

func TestSimilaritySymmetryAndRange(t *testing.T) {
	pairs := [][2]string{
		{"bohemian rhapsody", "bohemian rapsody"},
		{"stairway to heaven", "stairway"},
		{"hey jude", "let it be"},
		{"pimp", "pimp"},
	}

	for _, p := range pairs {
		ab := Similarity(p[0], p[1])
		ba := Similarity(p[1], p[0])
		assert.InDelta(t, ab, ba, 0.0001)
		assert.GreaterOrEqual(t, ab, 0.0)
		assert.LessOrEqual(t, ab, 1.0)
	}
}
