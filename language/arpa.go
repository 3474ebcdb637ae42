package language

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
)

// ErrARPA wraps every malformed ARPA failure.
var ErrARPA = errors.New("language: malformed arpa file")

// LoadARPA reads a language model in ARPA format.
// Log probabilities in ARPA files are base-10; they are converted to natural log.
func LoadARPA(r io.Reader) (*NGramModel, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	// Skip until \data\ section
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "\\data\\" {
			break
		}
	}

	// Parse ngram counts
	var declared [MaxOrder]int
	maxOrder := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "ngram ") {
			break
		}
		orderStr, countStr, ok := strings.Cut(line[6:], "=")
		if !ok {
			return nil, fmt.Errorf("%w: bad count line %q", ErrARPA, line)
		}
		order, err := strconv.Atoi(strings.TrimSpace(orderStr))
		if err != nil || order < 1 {
			return nil, fmt.Errorf("%w: bad order in %q", ErrARPA, line)
		}
		if order > MaxOrder {
			return nil, fmt.Errorf("%w: order %d exceeds %d", ErrARPA, order, MaxOrder)
		}
		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return nil, fmt.Errorf("%w: bad count in %q", ErrARPA, line)
		}
		declared[order-1] = count
		maxOrder = max(maxOrder, order)
	}
	if maxOrder == 0 {
		return nil, fmt.Errorf("%w: no \\data\\ section", ErrARPA)
	}
	model := NewNGramModel(maxOrder)

	// Parse n-gram sections
	sawEnd := false
	for {
		line := strings.TrimSpace(scanner.Text())

		if line == "\\end\\" {
			sawEnd = true
			break
		}

		if strings.HasPrefix(line, "\\") && strings.HasSuffix(line, "-grams:") {
			orderStr := strings.TrimSuffix(strings.TrimPrefix(line, "\\"), "-grams:")
			order, err := strconv.Atoi(orderStr)
			if err != nil || order < 1 || order > maxOrder {
				return nil, fmt.Errorf("%w: bad section header %q", ErrARPA, line)
			}

			words := make([]WordIndex, order)
			more := false
			for scanner.Scan() {
				entry := strings.TrimSpace(scanner.Text())
				if entry == "" {
					continue
				}
				if strings.HasPrefix(entry, "\\") {
					more = true
					break
				}
				if err := parseNGramLine(model, order, entry, words); err != nil {
					return nil, fmt.Errorf("%w: line %q: %v", ErrARPA, entry, err)
				}
			}
			if !more {
				break
			}
			continue
		}

		if !scanner.Scan() {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawEnd {
		return nil, fmt.Errorf("%w: missing \\end\\", ErrARPA)
	}
	for i := 0; i < maxOrder; i++ {
		if got := model.NumNGrams(i + 1); got != declared[i] {
			return nil, fmt.Errorf("%w: %d-grams: declared %d, found %d", ErrARPA, i+1, declared[i], got)
		}
	}

	return model, nil
}

// LoadARPAFile is a convenience wrapper that opens a file path.
func LoadARPAFile(path string) (*NGramModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadARPA(f)
}

func parseNGramLine(model *NGramModel, order int, line string, words []WordIndex) error {
	fields := strings.Fields(line)
	if len(fields) < order+1 || len(fields) > order+2 {
		return fmt.Errorf("expected %d or %d fields for %d-gram, got %d", order+1, order+2, order, len(fields))
	}

	logProb, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("parse log prob: %w", err)
	}
	logProb = mathutil.Log10ToLn(logProb)

	for i, w := range fields[1 : order+1] {
		words[i] = model.intern(w)
	}

	var logBackoff float64
	if len(fields) > order+1 {
		bo, err := strconv.ParseFloat(fields[order+1], 64)
		if err != nil {
			return fmt.Errorf("parse backoff: %w", err)
		}
		logBackoff = mathutil.Log10ToLn(bo)
	}

	model.add(words, ngramEntry{LogProb: logProb, LogBackoff: logBackoff})
	return nil
}

// WriteARPA writes the model in ARPA format (log10 probabilities) to w.
// N-grams are written sorted by their words.
func (m *NGramModel) WriteARPA(w io.Writer) error {
	bw := bufio.NewWriter(w)

	var sections [MaxOrder][]ngramKey
	for k := range m.entries {
		n := 0
		for n < MaxOrder && k[n] >= 0 {
			n++
		}
		sections[n-1] = append(sections[n-1], k)
	}

	fmt.Fprintln(bw, "\\data\\")
	for i := 0; i < m.Order; i++ {
		fmt.Fprintf(bw, "ngram %d=%d\n", i+1, len(sections[i]))
	}

	for i := 0; i < m.Order; i++ {
		order := i + 1
		keys := sections[i]
		slices.SortFunc(keys, func(a, b ngramKey) int {
			for j := 0; j < order; j++ {
				if c := strings.Compare(m.words[a[j]], m.words[b[j]]); c != 0 {
					return c
				}
			}
			return 0
		})

		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "\\%d-grams:\n", order)
		for _, k := range keys {
			e := m.entries[k]
			fmt.Fprintf(bw, "%.6f\t", e.LogProb/math.Ln10)
			for j := 0; j < order; j++ {
				if j > 0 {
					bw.WriteByte(' ')
				}
				bw.WriteString(m.words[k[j]])
			}
			if e.LogBackoff != 0 {
				fmt.Fprintf(bw, "\t%.6f", e.LogBackoff/math.Ln10)
			}
			bw.WriteByte('\n')
		}
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "\\end\\")
	return bw.Flush()
}
