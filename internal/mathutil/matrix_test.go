package mathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMat32(t *testing.T) {
	m := NewMat32(3, 4)
	require.Len(t, m, 3)
	for _, row := range m {
		assert.Len(t, row, 4)
		assert.Equal(t, 4, cap(row))
	}

	// appending to a row must not clobber the next one
	m[0] = append(m[0], 9)
	assert.Equal(t, float32(0), m[1][0])
}
