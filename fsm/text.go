package fsm

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
)

// LoadFromString parses the line-oriented text form:
//
//	num_states,num_arcs,start_state,final_state
//	src dst ilabel[:olabel]/score
//	...
//
// A single label describes an acceptor arc (olabel = ilabel).
func (g *Graph) LoadFromString(r io.Reader) error {
	if !g.Empty() {
		return ErrReload
	}
	slog.Debug("loading fsm from text")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	// Header
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		return fmt.Errorf("%w: missing header", ErrFormat)
	}
	var h Graph
	if err := parseHeader(scanner.Text(), &h); err != nil {
		return err
	}

	// Arcs
	arcs := make([]Arc, 0, min(h.NumArcs, 1<<16))
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		arc, err := parseArc(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
		if int64(arc.Src) >= h.NumStates || int64(arc.Dst) >= h.NumStates || arc.Src < 0 || arc.Dst < 0 {
			return fmt.Errorf("line %d: %w: state out of range in %q", lineNum, ErrFormat, line)
		}
		arcs = append(arcs, arc)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read arcs: %w", err)
	}
	if int64(len(arcs)) != h.NumArcs {
		return fmt.Errorf("%w: header declares %d arcs, loaded %d", ErrFormat, h.NumArcs, len(arcs))
	}

	sortArcs(arcs)
	g.NumStates = h.NumStates
	g.NumArcs = h.NumArcs
	g.Start = h.Start
	g.Final = h.Final
	g.Arcs = arcs
	g.setupStates()
	if err := g.validate(); err != nil {
		*g = Graph{}
		return err
	}

	slog.Debug("loaded fsm", "states", g.NumStates, "arcs", g.NumArcs)
	return nil
}

func parseHeader(line string, h *Graph) error {
	cols := strings.Split(line, ",")
	if len(cols) != 4 {
		return fmt.Errorf("%w: header %q: expected 4 fields, got %d", ErrFormat, line, len(cols))
	}
	var vals [4]int64
	for i, c := range cols {
		v, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: header %q: %v", ErrFormat, line, err)
		}
		vals[i] = v
	}
	h.NumStates = vals[0]
	h.NumArcs = vals[1]
	h.Start = StateID(vals[2])
	h.Final = StateID(vals[3])
	return h.checkHeader()
}

func parseArc(line string) (Arc, error) {
	var arc Arc
	cols := strings.Fields(line)
	if len(cols) != 3 {
		return arc, fmt.Errorf("%w: arc %q: expected 3 fields, got %d", ErrFormat, line, len(cols))
	}
	labels, score, ok := strings.Cut(cols[2], "/")
	if !ok {
		return arc, fmt.Errorf("%w: arc %q: missing score", ErrFormat, line)
	}

	src, err := strconv.ParseInt(cols[0], 10, 32)
	if err != nil {
		return arc, fmt.Errorf("%w: arc %q: src: %v", ErrFormat, line, err)
	}
	dst, err := strconv.ParseInt(cols[1], 10, 32)
	if err != nil {
		return arc, fmt.Errorf("%w: arc %q: dst: %v", ErrFormat, line, err)
	}

	ilabelStr, olabelStr, transducer := strings.Cut(labels, ":")
	ilabel, err := strconv.ParseInt(ilabelStr, 10, 32)
	if err != nil {
		return arc, fmt.Errorf("%w: arc %q: ilabel: %v", ErrFormat, line, err)
	}
	olabel := ilabel
	if transducer {
		olabel, err = strconv.ParseInt(olabelStr, 10, 32)
		if err != nil {
			return arc, fmt.Errorf("%w: arc %q: olabel: %v", ErrFormat, line, err)
		}
	}

	s, err := strconv.ParseFloat(score, 32)
	if err != nil {
		return arc, fmt.Errorf("%w: arc %q: score: %v", ErrFormat, line, err)
	}

	arc = Arc{
		Src:    StateID(src),
		Dst:    StateID(dst),
		ILabel: Label(ilabel),
		OLabel: Label(olabel),
		Score:  Score(s),
	}
	return arc, nil
}

// WriteText writes the graph in the form read by LoadFromString.
// Every arc is written as a transducer arc.
func (g *Graph) WriteText(w io.Writer) error {
	if g.Empty() {
		return ErrEmpty
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d,%d,%d,%d\n", g.NumStates, g.NumArcs, g.Start, g.Final)
	for s := StateID(0); int64(s) < g.NumStates; s++ {
		for it := g.ArcIterator(s); !it.Done(); it.Next() {
			arc := it.Value()
			fmt.Fprintf(bw, "%d\t%d\t%d:%d/%s\n", arc.Src, arc.Dst, arc.ILabel, arc.OLabel,
				strconv.FormatFloat(float64(arc.Score), 'g', -1, 32))
		}
	}
	return bw.Flush()
}
