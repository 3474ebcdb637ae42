package mathutil

// Mat32 is a row-major float32 matrix, one row per frame.
type Mat32 = [][]float32

// NewMat32 creates a rows x cols matrix backed by one contiguous block.
func NewMat32(rows, cols int) Mat32 {
	m := make(Mat32, rows)
	data := make([]float32, rows*cols)
	for i := range m {
		m[i] = data[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return m
}
