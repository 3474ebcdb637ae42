package language

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

var (
	// ErrNotDeterministic is returned for a graph that cannot back an Fst.
	ErrNotDeterministic = errors.New("language: graph is not a deterministic backoff acceptor")
	// ErrCoverage is returned when an Fst cannot read every label it may be
	// given.
	ErrCoverage = errors.New("language: fst does not accept every label")
)

// FstArc is the transition taken by an Fst on one input label.
type FstArc struct {
	ILabel fsm.Label
	OLabel fsm.Label
	Next   State
	Score  float32
}

// Fst is an on-demand deterministic transducer.
type Fst interface {
	Start() State
	// Final returns the score of ending in s.
	Final(s State) (float32, bool)
	// GetArc returns the arc leaving s on ilabel. ilabel must not be
	// fsm.Epsilon.
	GetArc(s State, ilabel fsm.Label) (FstArc, bool)
}

// BackoffFst reads a graph whose states have at most one epsilon arc, the
// backoff arc. A label without an arc is retried in the backoff state, adding
// the backoff score. Final weights are InputEnd arcs.
type BackoffFst struct {
	g *fsm.Graph
}

// NewBackoffFst checks that g is deterministic on non-epsilon labels and
// that backoff chains terminate.
func NewBackoffFst(g *fsm.Graph) (*BackoffFst, error) {
	if g.Empty() {
		return nil, fsm.ErrEmpty
	}
	for s := fsm.StateID(0); int64(s) < g.NumStates; s++ {
		arcs := g.OutArcs(s)
		for i := 1; i < len(arcs); i++ {
			if arcs[i].ILabel == arcs[i-1].ILabel {
				return nil, fmt.Errorf("%w: state %d has two arcs on label %d", ErrNotDeterministic, s, arcs[i].ILabel)
			}
		}
		cur := s
		for steps := int64(0); g.HasEpsilonArcs(cur); steps++ {
			if steps >= g.NumStates {
				return nil, fmt.Errorf("%w: backoff cycle through state %d", ErrNotDeterministic, s)
			}
			cur = g.OutArcs(cur)[0].Dst
		}
	}
	return &BackoffFst{g: g}, nil
}

// Covers checks that GetArc succeeds for every label in labels from every
// state reachable from the start without reading InputEnd. Backoff chains
// end in states without a backoff arc, so only those states are checked.
func (f *BackoffFst) Covers(labels []fsm.Label) error {
	seen := make([]bool, f.g.NumStates)
	queue := []fsm.StateID{f.g.Start}
	seen[f.g.Start] = true
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		arcs := f.g.OutArcs(s)
		for _, a := range arcs {
			if a.ILabel != fsm.InputEnd && !seen[a.Dst] {
				seen[a.Dst] = true
				queue = append(queue, a.Dst)
			}
		}
		if f.g.HasEpsilonArcs(s) {
			continue
		}
		for _, l := range labels {
			_, found := slices.BinarySearchFunc(arcs, l, func(a fsm.Arc, l fsm.Label) int {
				return cmp.Compare(a.ILabel, l)
			})
			if !found {
				return fmt.Errorf("%w: state %d has no arc on label %d", ErrCoverage, s, l)
			}
		}
	}
	return nil
}

// OutputLabels returns the sorted distinct output labels of the non-epsilon
// arcs, excluding final weight arcs.
func (f *BackoffFst) OutputLabels() []fsm.Label {
	var labels []fsm.Label
	for _, a := range f.g.Arcs {
		if a.ILabel != fsm.Epsilon && a.ILabel != fsm.InputEnd && a.OLabel != fsm.Epsilon {
			labels = append(labels, a.OLabel)
		}
	}
	slices.Sort(labels)
	return slices.Compact(labels)
}

func (f *BackoffFst) Start() State { return f.g.Start }

func (f *BackoffFst) Final(s State) (float32, bool) {
	arc, ok := f.GetArc(s, fsm.InputEnd)
	return arc.Score, ok
}

func (f *BackoffFst) GetArc(s State, ilabel fsm.Label) (FstArc, bool) {
	if ilabel == fsm.Epsilon {
		panic("language: GetArc on epsilon")
	}
	var backoff float32
	for {
		arcs := f.g.OutArcs(s)
		i, found := slices.BinarySearchFunc(arcs, ilabel, func(a fsm.Arc, l fsm.Label) int {
			return cmp.Compare(a.ILabel, l)
		})
		if found {
			a := arcs[i]
			return FstArc{ILabel: a.ILabel, OLabel: a.OLabel, Next: a.Dst, Score: backoff + a.Score}, true
		}
		if len(arcs) == 0 || arcs[0].ILabel != fsm.Epsilon {
			return FstArc{}, false
		}
		backoff += arcs[0].Score
		s = arcs[0].Dst
	}
}

// ComposeFst lazily composes a with b: the output of a feeds the input of b.
// Pair states are interned on first use, so a ComposeFst is not safe for
// concurrent use.
type ComposeFst struct {
	a, b  Fst
	pairs [][2]State
	index map[[2]State]State
}

func NewComposeFst(a, b Fst) *ComposeFst {
	c := &ComposeFst{a: a, b: b, index: make(map[[2]State]State)}
	c.pair(a.Start(), b.Start())
	return c
}

func (c *ComposeFst) pair(sa, sb State) State {
	k := [2]State{sa, sb}
	if s, ok := c.index[k]; ok {
		return s
	}
	s := State(len(c.pairs))
	c.pairs = append(c.pairs, k)
	c.index[k] = s
	return s
}

func (c *ComposeFst) Start() State { return 0 }

func (c *ComposeFst) Final(s State) (float32, bool) {
	p := c.pairs[s]
	fa, ok := c.a.Final(p[0])
	if !ok {
		return 0, false
	}
	fb, ok := c.b.Final(p[1])
	if !ok {
		return 0, false
	}
	return fa + fb, true
}

func (c *ComposeFst) GetArc(s State, ilabel fsm.Label) (FstArc, bool) {
	p := c.pairs[s]
	a1, ok := c.a.GetArc(p[0], ilabel)
	if !ok {
		return FstArc{}, false
	}
	if a1.OLabel == fsm.Epsilon {
		return FstArc{ILabel: ilabel, OLabel: fsm.Epsilon, Next: c.pair(a1.Next, p[1]), Score: a1.Score}, true
	}
	a2, ok := c.b.GetArc(p[1], a1.OLabel)
	if !ok {
		return FstArc{}, false
	}
	return FstArc{
		ILabel: ilabel,
		OLabel: a2.OLabel,
		Next:   c.pair(a1.Next, a2.Next),
		Score:  a1.Score + a2.Score,
	}, true
}

// NumStates returns the number of pair states created so far.
func (c *ComposeFst) NumStates() int { return len(c.pairs) }

// FstModel scores tokens by walking an Fst on them. The end-of-sentence
// token is scored with the final weight and keeps the state.
type FstModel struct {
	fst Fst
	eos tokenizer.TokenID
}

func NewFstModel(f Fst, eos tokenizer.TokenID) *FstModel {
	return &FstModel{fst: f, eos: eos}
}

func (m *FstModel) NullState() State { return m.fst.Start() }

func (m *FstModel) GetScore(s State, w tokenizer.TokenID) (float32, State, bool) {
	if w == m.eos {
		score, ok := m.fst.Final(s)
		return score, s, ok
	}
	if w == fsm.Epsilon {
		return 0, s, true
	}
	arc, ok := m.fst.GetArc(s, w)
	if !ok {
		return 0, 0, false
	}
	return arc.Score, arc.Next, true
}
