// Package eval scores decoded token sequences against references.
package eval

// EditDistance computes the Levenshtein edit distance between two sequences.
func EditDistance[T comparable](a, b []T) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	// Two rows are enough.
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

// ErrorRate is the edit distance between ref and hyp divided by len(ref).
// An empty reference gives 0 for an empty hypothesis and 1 otherwise.
func ErrorRate[T comparable](ref, hyp []T) float64 {
	if len(ref) == 0 {
		if len(hyp) == 0 {
			return 0
		}
		return 1
	}
	return float64(EditDistance(ref, hyp)) / float64(len(ref))
}
