package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// Log10ToLn converts a base-10 log value, as stored in ARPA files, to natural log.
func Log10ToLn(x float64) float64 {
	return x * math.Ln10
}

// LogAdd returns log(exp(a) + exp(b)) in a numerically stable way.
// Uses threshold-based early exit to skip expensive exp/log1p when the
// smaller value contributes less than float64 precision (exp(-36) ≈ 2.3e-16).
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if b <= LogZero {
		return a
	}
	d := b - a
	if d < -36.0 {
		return a
	}
	return a + math.Log1p(math.Exp(d))
}

// Posteriors turns log scores into probabilities normalized over the list.
func Posteriors(logScores []float64) []float64 {
	if len(logScores) == 0 {
		return nil
	}
	total := float64(LogZero)
	for _, s := range logScores {
		total = LogAdd(total, s)
	}
	out := make([]float64, len(logScores))
	for i, s := range logScores {
		out[i] = math.Exp(s - total)
	}
	return out
}
