// Package scorefile reads and writes per-frame token score matrices as
// text: one frame per line, one whitespace separated score per token.
// Blank lines and lines starting with '#' are skipped.
package scorefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
)

// ErrFormat wraps every malformed-matrix failure.
var ErrFormat = errors.New("scorefile: malformed score matrix")

// Options control how scores are post-processed after reading.
type Options struct {
	// LogSoftmax normalizes each frame from raw logits to log
	// probabilities.
	LogSoftmax bool
}

// Read parses a score matrix. All frames must have the same width.
func Read(r io.Reader, opts Options) (mathutil.Mat32, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		data    []float32
		rows    int
		cols    = -1
		lineNum int
	)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if cols < 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%w: line %d: expected %d scores, got %d", ErrFormat, lineNum, cols, len(fields))
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, lineNum, err)
			}
			data = append(data, float32(v))
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if rows == 0 {
		return mathutil.Mat32{}, nil
	}

	m := mathutil.NewMat32(rows, cols)
	for i := range m {
		copy(m[i], data[i*cols:(i+1)*cols])
		if opts.LogSoftmax {
			LogSoftmax(m[i])
		}
	}
	return m, nil
}

// ReadFile is a convenience wrapper that opens a file path.
func ReadFile(path string, opts Options) (mathutil.Mat32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, opts)
}

// LogSoftmax turns logits into log probabilities in place.
func LogSoftmax(row []float32) {
	if len(row) == 0 {
		return
	}
	buf := make([]float64, len(row))
	for i, v := range row {
		buf[i] = float64(v)
	}
	norm := floats.LogSumExp(buf)
	for i, v := range buf {
		row[i] = float32(v - norm)
	}
}

// Write prints m in the format Read accepts.
func Write(w io.Writer, m mathutil.Mat32) error {
	bw := bufio.NewWriter(w)
	for _, row := range m {
		for j, v := range row {
			if j > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
