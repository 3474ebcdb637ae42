package scorefile

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
)

func TestRead(t *testing.T) {
	in := "# frames x tokens\n0 -1.5 -2\n\n-3 0.25 -4\n"
	m, err := Read(strings.NewReader(in), Options{})
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, []float32{0, -1.5, -2}, m[0])
	assert.Equal(t, []float32{-3, 0.25, -4}, m[1])
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("0 1\n0 1 2\n"), Options{})
	require.ErrorIs(t, err, ErrFormat)

	_, err = Read(strings.NewReader("0 x\n"), Options{})
	require.ErrorIs(t, err, ErrFormat)

	m, err := Read(strings.NewReader("\n# nothing\n"), Options{})
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestLogSoftmax(t *testing.T) {
	m, err := Read(strings.NewReader("1 2 3\n0 0 0\n"), Options{LogSoftmax: true})
	require.NoError(t, err)

	for _, row := range m {
		var total float64
		for _, v := range row {
			assert.LessOrEqual(t, v, float32(0))
			total += math.Exp(float64(v))
		}
		assert.InDelta(t, 1, total, 1e-5)
	}
	assert.InDelta(t, -math.Log(3), m[1][0], 1e-6)
	// order is preserved
	assert.Greater(t, m[0][2], m[0][1])
}

func TestWriteRoundTrip(t *testing.T) {
	m := mathutil.NewMat32(2, 3)
	for _, row := range m {
		for j := range row {
			row[j] = -0.5
		}
	}
	m[1][2] = 1.25

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	got, err := Read(&buf, Options{})
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
