package eval

import (
	"strings"
	"testing"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical", "a b", "a b", 0},
		{"empty_both", "", "", 0},
		{"empty_a", "", "a b", 2},
		{"empty_b", "a", "", 1},
		{"substitution", "k a", "g a", 1},
		{"insertion", "k a", "k a i", 1},
		{"deletion", "k a i", "k a", 1},
		{"kasa_vs_asa", "k a s a", "a s a", 1},
		{"mike_vs_miku", "m a i k u", "m i k u", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EditDistance(strings.Fields(tt.a), strings.Fields(tt.b))
			if got != tt.want {
				t.Errorf("EditDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestErrorRate(t *testing.T) {
	if r := ErrorRate([]int32{4, 5, 6, 7}, []int32{4, 6, 7}); r != 0.25 {
		t.Errorf("ErrorRate = %f, want 0.25", r)
	}
	if r := ErrorRate[string](nil, nil); r != 0 {
		t.Errorf("ErrorRate(empty, empty) = %f, want 0", r)
	}
	if r := ErrorRate(nil, []string{"a"}); r != 1 {
		t.Errorf("ErrorRate(empty, a) = %f, want 1", r)
	}
}
