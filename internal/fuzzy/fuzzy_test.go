package fuzzy

import (
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"", "a", 1},
		{"abc", "abc", 0},
		{"ABC", "abc", 0},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"podcast", "podkast", 1},
		{"café", "cafe", 1},
	}

	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%q, %q) = %d; want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("", ""); got != 1 {
		t.Errorf("Similarity of empty strings = %f", got)
	}
	if got := Similarity("podcast", "podkast"); got < 0.85 {
		t.Errorf("Similarity(podcast, podkast) = %f", got)
	}
	if got := Similarity("hello", "world"); got > 0.3 {
		t.Errorf("Similarity(hello, world) = %f", got)
	}
}

func TestSuggest(t *testing.T) {
	commands := []string{"download", "episodes", "pause", "queue", "resume"}

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"downlaod", "download", true},
		{"qeue", "queue", true},
		{"PAUSE", "pause", true},
		{"subscribe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Suggest(tt.input, commands)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Suggest(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		text, query string
		want        bool
	}{
		{"The Rabbit Hole", "rabbit", true},
		{"The Rabbit Hole", "rabitt", true},
		{"The Rabbit Hole", "rabbit hole", true},
		{"The Rabbit Hole", "rabbit cave", false},
		{"Tech Weekly", "tek", false},
		{"Tech Weekly", "tech", true},
		{"Tech Weekly", "", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.text, tt.query); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v; want %v", tt.text, tt.query, got, tt.want)
		}
	}
}
