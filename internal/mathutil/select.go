package mathutil

// SelectTopK partially orders xs so that xs[:k] holds the k elements ranking
// first under before, with xs[k-1] the last of them, as nth_element does.
// before must be a strict total order.
func SelectTopK[T any](xs []T, k int, before func(a, b T) bool) {
	if k <= 0 || k >= len(xs) {
		return
	}
	nth := k - 1
	lo, hi := 0, len(xs)-1
	for lo < hi {
		p := partition(xs, lo, hi, before)
		switch {
		case p == nth:
			return
		case nth < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

func partition[T any](xs []T, lo, hi int, before func(a, b T) bool) int {
	// median of three as pivot, moved to hi
	mid := lo + (hi-lo)/2
	if before(xs[mid], xs[lo]) {
		xs[mid], xs[lo] = xs[lo], xs[mid]
	}
	if before(xs[hi], xs[lo]) {
		xs[hi], xs[lo] = xs[lo], xs[hi]
	}
	if before(xs[mid], xs[hi]) {
		xs[mid], xs[hi] = xs[hi], xs[mid]
	}
	pivot := xs[hi]
	i := lo
	for j := lo; j < hi; j++ {
		if before(xs[j], pivot) {
			xs[i], xs[j] = xs[j], xs[i]
			i++
		}
	}
	xs[i], xs[hi] = xs[hi], xs[i]
	return i
}
