package decoder

import (
	"github.com/viterin/vek/vek32"

	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

// GreedySearch keeps the best scoring token of every frame. It needs no
// graph and serves as a baseline for the beam search.
type GreedySearch struct {
	blank  tokenizer.TokenID
	path   []tokenizer.TokenID
	scores []float32
}

// NewGreedySearch returns a search that drops blank from its results.
func NewGreedySearch(blank tokenizer.TokenID) *GreedySearch {
	return &GreedySearch{blank: blank}
}

// Push records the arg-max of frame. Empty frames are ignored.
func (g *GreedySearch) Push(frame []float32) {
	if len(frame) == 0 {
		return
	}
	best := vek32.ArgMax(frame)
	g.path = append(g.path, tokenizer.TokenID(best))
	g.scores = append(g.scores, frame[best])
}

// Result merges consecutive repeats, then removes blanks.
func (g *GreedySearch) Result() []tokenizer.TokenID {
	var out []tokenizer.TokenID
	for i, t := range g.path {
		if i > 0 && t == g.path[i-1] {
			continue
		}
		if t == g.blank {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Score returns the sum of the picked frame scores.
func (g *GreedySearch) Score() float32 {
	if len(g.scores) == 0 {
		return 0
	}
	return vek32.Sum(g.scores)
}

// Path returns the raw per-frame arg-max sequence.
func (g *GreedySearch) Path() []tokenizer.TokenID { return g.path }

func (g *GreedySearch) Reset() {
	g.path = g.path[:0]
	g.scores = g.scores[:0]
}
