// Package fsm holds the static weighted finite-state graph searched by the
// decoder. Arcs are stored contiguously and sorted by (src, ilabel), so the
// outgoing arcs of a state are one slice.
package fsm

import (
	"errors"
	"fmt"
	"slices"
)

type (
	StateID = int32
	ArcID   = int32
	Label   = int32
	Score   = float32
)

// Reserved labels. InputEnd follows the k2 convention and is consumed
// exactly once, at end of utterance.
const (
	InputEnd Label = -1
	Epsilon  Label = -2
)

var (
	// ErrReload is returned when loading into a graph that already holds data.
	ErrReload = errors.New("fsm: reloading is not supported")
	// ErrEmpty is returned when dumping a graph without states.
	ErrEmpty = errors.New("fsm: graph is empty")
	// ErrFormat wraps every malformed-artifact failure.
	ErrFormat = errors.New("fsm: malformed graph")
)

// State only stores where its arcs begin; the next state's offset marks the end.
type State struct {
	ArcsBegin ArcID
}

// Arc is a scored transition.
type Arc struct {
	Src    StateID
	Dst    StateID
	ILabel Label
	OLabel Label
	Score  Score
}

// Graph is a weighted acceptor/transducer. States has NumStates+1 entries,
// the last one being a sentinel holding the end offset of all arcs.
type Graph struct {
	NumStates int64
	NumArcs   int64
	Start     StateID
	Final     StateID
	States    []State
	Arcs      []Arc
}

// Empty reports whether the graph holds no states.
func (g *Graph) Empty() bool {
	return len(g.States) == 0
}

// OutArcs returns the outgoing arcs of s as a read-only slice.
func (g *Graph) OutArcs(s StateID) []Arc {
	if g.Empty() {
		panic("fsm: arc access on empty graph")
	}
	if int(s) >= len(g.States)-1 || s < 0 {
		panic("fsm: arc access on sentinel or out-of-range state")
	}
	return g.Arcs[g.States[s].ArcsBegin:g.States[s+1].ArcsBegin]
}

// OutDegree returns the number of outgoing arcs of s.
func (g *Graph) OutDegree(s StateID) int {
	return len(g.OutArcs(s))
}

// ArcIterator is a forward-only, restartable view over one state's arcs.
type ArcIterator struct {
	arcs []Arc
	pos  int
}

// ArcIterator returns an iterator over the arcs leaving s.
// It panics when s is the sentinel state.
func (g *Graph) ArcIterator(s StateID) *ArcIterator {
	return &ArcIterator{arcs: g.OutArcs(s)}
}

func (it *ArcIterator) Done() bool { return it.pos >= len(it.arcs) }

func (it *ArcIterator) Value() *Arc { return &it.arcs[it.pos] }

func (it *ArcIterator) Next() { it.pos++ }

// Reset rewinds the iterator to the first arc.
func (it *ArcIterator) Reset() { it.pos = 0 }

func (g *Graph) addArc(src, dst StateID, ilabel, olabel Label, score Score) {
	g.Arcs = append(g.Arcs, Arc{Src: src, Dst: dst, ILabel: ilabel, OLabel: olabel, Score: score})
}

func sortArcs(arcs []Arc) {
	slices.SortStableFunc(arcs, func(x, y Arc) int {
		if x.Src != y.Src {
			return int(x.Src) - int(y.Src)
		}
		return int(x.ILabel) - int(y.ILabel)
	})
}

// setupStates derives per-state arc offsets from out-degrees.
// Arcs must already be sorted.
func (g *Graph) setupStates() {
	g.States = make([]State, g.NumStates+1)
	outDegree := make([]int32, g.NumStates)
	for _, arc := range g.Arcs {
		outDegree[arc.Src]++
	}
	// n = number of arcs of States[0, s)
	var n ArcID
	for s := int64(0); s < g.NumStates; s++ {
		g.States[s].ArcsBegin = n
		n += outDegree[s]
	}
	g.States[g.NumStates].ArcsBegin = n
}

// validate checks what the search relies on: contiguous arc ranges, arcs
// listed under their own source state, destinations in range, labels no
// smaller than Epsilon, and arcs of a state sorted by input label.
func (g *Graph) validate() error {
	if int64(len(g.States)) != g.NumStates+1 || int64(len(g.Arcs)) != g.NumArcs {
		return fmt.Errorf("%w: %d state offsets and %d arcs for %d states, %d arcs",
			ErrFormat, len(g.States), len(g.Arcs), g.NumStates, g.NumArcs)
	}
	if g.States[0].ArcsBegin != 0 {
		return fmt.Errorf("%w: first arc offset %d, want 0", ErrFormat, g.States[0].ArcsBegin)
	}
	if int64(g.States[g.NumStates].ArcsBegin) != g.NumArcs {
		return fmt.Errorf("%w: sentinel offset %d, want %d", ErrFormat, g.States[g.NumStates].ArcsBegin, g.NumArcs)
	}
	for s := int64(0); s < g.NumStates; s++ {
		begin, end := g.States[s].ArcsBegin, g.States[s+1].ArcsBegin
		if end < begin || int64(end) > g.NumArcs {
			return fmt.Errorf("%w: state %d: arc range [%d, %d)", ErrFormat, s, begin, end)
		}
		for a := begin; a < end; a++ {
			arc := &g.Arcs[a]
			switch {
			case int64(arc.Src) != s:
				return fmt.Errorf("%w: arc %d: src %d listed under state %d", ErrFormat, a, arc.Src, s)
			case arc.Dst < 0 || int64(arc.Dst) >= g.NumStates:
				return fmt.Errorf("%w: arc %d: dst %d out of range", ErrFormat, a, arc.Dst)
			case arc.ILabel < Epsilon || arc.OLabel < Epsilon:
				return fmt.Errorf("%w: arc %d: labels %d:%d", ErrFormat, a, arc.ILabel, arc.OLabel)
			case a > begin && g.Arcs[a-1].ILabel > arc.ILabel:
				return fmt.Errorf("%w: arc %d: not sorted by input label", ErrFormat, a)
			}
		}
	}
	return nil
}

// HasEpsilonArcs reports whether any arc leaving s has an epsilon input label.
func (g *Graph) HasEpsilonArcs(s StateID) bool {
	// Epsilon is the smallest label, so it sorts first.
	arcs := g.OutArcs(s)
	return len(arcs) > 0 && arcs[0].ILabel == Epsilon
}
