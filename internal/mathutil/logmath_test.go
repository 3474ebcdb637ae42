package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogAdd(t *testing.T) {
	// log(exp(log(2)) + exp(log(3))) = log(5)
	got := LogAdd(math.Log(2), math.Log(3))
	assert.InDelta(t, math.Log(5), got, 1e-10)
	assert.InDelta(t, math.Log(5), LogAdd(math.Log(3), math.Log(2)), 1e-10)
}

func TestLogAddWithLogZero(t *testing.T) {
	a := math.Log(5)
	assert.InDelta(t, a, LogAdd(LogZero, a), 1e-10)
	assert.InDelta(t, a, LogAdd(a, LogZero), 1e-10)
}

func TestLog10ToLn(t *testing.T) {
	assert.InDelta(t, math.Log(100), Log10ToLn(2), 1e-12)
}

func TestPosteriors(t *testing.T) {
	p := Posteriors([]float64{math.Log(3), math.Log(1)})
	assert.InDelta(t, 0.75, p[0], 1e-12)
	assert.InDelta(t, 0.25, p[1], 1e-12)

	// large offsets cancel out
	p = Posteriors([]float64{-5000, -5000})
	assert.InDelta(t, 0.5, p[0], 1e-12)
	assert.Nil(t, Posteriors(nil))
}
