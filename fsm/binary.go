package fsm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Marker tokens of the binary layout, written Kaldi-style as "<Token> ".
const (
	tokenFsm       = "<Fsm>"
	tokenNumStates = "<NumStates>"
	tokenNumArcs   = "<NumArcs>"
	tokenStart     = "<Start>"
	tokenFinal     = "<Final>"
	tokenStates    = "<States>"
	tokenArcs      = "<Arcs>"
)

// Load reads a graph in binary form. The graph must be empty.
func (g *Graph) Load(r io.Reader) error {
	if !g.Empty() {
		return ErrReload
	}
	br := bufio.NewReader(r)

	if err := expectToken(br, tokenFsm); err != nil {
		return err
	}

	if err := expectToken(br, tokenNumStates); err != nil {
		return err
	}
	if err := readBasic(br, &g.NumStates); err != nil {
		return fmt.Errorf("read num states: %w", err)
	}

	if err := expectToken(br, tokenNumArcs); err != nil {
		return err
	}
	if err := readBasic(br, &g.NumArcs); err != nil {
		return fmt.Errorf("read num arcs: %w", err)
	}

	if err := expectToken(br, tokenStart); err != nil {
		return err
	}
	if err := readBasic(br, &g.Start); err != nil {
		return fmt.Errorf("read start state: %w", err)
	}

	if err := expectToken(br, tokenFinal); err != nil {
		return err
	}
	if err := readBasic(br, &g.Final); err != nil {
		return fmt.Errorf("read final state: %w", err)
	}
	if err := g.checkHeader(); err != nil {
		return err
	}

	if err := expectToken(br, tokenStates); err != nil {
		return err
	}
	states, err := readRecords[State](br, g.NumStates+1)
	if err != nil {
		return fmt.Errorf("read states: %w", err)
	}

	if err := expectToken(br, tokenArcs); err != nil {
		return err
	}
	arcs, err := readRecords[Arc](br, g.NumArcs)
	if err != nil {
		return fmt.Errorf("read arcs: %w", err)
	}

	g.States = states
	g.Arcs = arcs
	if err := g.validate(); err != nil {
		*g = Graph{}
		return err
	}
	return nil
}

// readRecords reads n little-endian records. Memory grows with the records
// actually read, not with n.
func readRecords[T any](r io.Reader, n int64) ([]T, error) {
	const chunk = 1 << 16
	out := make([]T, 0, min(n, chunk))
	for int64(len(out)) < n {
		start := len(out)
		out = append(out, make([]T, min(n-int64(start), chunk))...)
		if err := binary.Read(r, binary.LittleEndian, out[start:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Dump writes the graph in binary form.
func (g *Graph) Dump(w io.Writer) error {
	if g.Empty() {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)

	writeToken(bw, tokenFsm)
	writeToken(bw, tokenNumStates)
	writeBasic(bw, g.NumStates)
	writeToken(bw, tokenNumArcs)
	writeBasic(bw, g.NumArcs)
	writeToken(bw, tokenStart)
	writeBasic(bw, g.Start)
	writeToken(bw, tokenFinal)
	writeBasic(bw, g.Final)

	writeToken(bw, tokenStates)
	if err := binary.Write(bw, binary.LittleEndian, g.States); err != nil {
		return fmt.Errorf("write states: %w", err)
	}
	writeToken(bw, tokenArcs)
	if err := binary.Write(bw, binary.LittleEndian, g.Arcs); err != nil {
		return fmt.Errorf("write arcs: %w", err)
	}
	return bw.Flush()
}

func (g *Graph) checkHeader() error {
	if g.NumStates <= 0 || g.NumArcs < 0 || g.NumStates > math.MaxInt32 || g.NumArcs > math.MaxInt32 {
		return fmt.Errorf("%w: %d states, %d arcs", ErrFormat, g.NumStates, g.NumArcs)
	}
	if g.Start != 0 {
		return fmt.Errorf("%w: start state %d, want 0", ErrFormat, g.Start)
	}
	if int64(g.Final) != g.NumStates-1 {
		return fmt.Errorf("%w: final state %d, want %d", ErrFormat, g.Final, g.NumStates-1)
	}
	return nil
}

func writeToken(w *bufio.Writer, token string) {
	w.WriteString(token)
	w.WriteByte(' ')
}

func expectToken(r *bufio.Reader, want string) error {
	// skip leading whitespace
	c, err := r.ReadByte()
	for err == nil && isSpace(c) {
		c, err = r.ReadByte()
	}
	if err != nil {
		return fmt.Errorf("read token %s: %w", want, err)
	}
	buf := []byte{c}
	for {
		c, err = r.ReadByte()
		if err != nil {
			return fmt.Errorf("read token %s: %w", want, err)
		}
		if isSpace(c) {
			break
		}
		buf = append(buf, c)
	}
	if string(buf) != want {
		return fmt.Errorf("%w: expected token %s, got %q", ErrFormat, want, buf)
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// basic is the set of scalar types written with a size prefix.
type basic interface {
	~int32 | ~int64
}

// writeBasic writes a one-byte size marker followed by the little-endian value.
// The marker is positive for signed types, as in Kaldi's WriteBasicType.
func writeBasic[T basic](w *bufio.Writer, v T) {
	w.WriteByte(byte(binary.Size(v)))
	binary.Write(w, binary.LittleEndian, v)
}

func readBasic[T basic](r *bufio.Reader, v *T) error {
	size, err := r.ReadByte()
	if err != nil {
		return err
	}
	if int(size) != binary.Size(*v) {
		return fmt.Errorf("%w: basic type size %d, want %d", ErrFormat, size, binary.Size(*v))
	}
	return binary.Read(r, binary.LittleEndian, v)
}
