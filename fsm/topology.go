package fsm

import (
	"errors"
	"log/slog"

	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

// BuildTokenTopology synthesizes the default CTC-style token graph T from a
// vocabulary. State 0 is the start state and carries a blank self-loop; every
// normal token t gets its own state s with
//
//	0 -> s   t:t     (enter)
//	s -> s   t:eps   (repeat)
//	s -> 0   eps:eps (leave)
//
// and a final InputEnd:eos arc leads from the start state to the final state.
func (g *Graph) BuildTokenTopology(tok *tokenizer.Tokenizer) error {
	if !g.Empty() {
		return ErrReload
	}
	if tok.Size() == 0 {
		return errors.New("fsm: empty vocabulary")
	}
	slog.Debug("building token topology", "vocab_size", tok.Size())

	g.Start = 0
	g.addArc(g.Start, g.Start, tok.Blank, Epsilon, 0)

	cur := StateID(1)
	for t := tokenizer.TokenID(0); int(t) < tok.Size(); t++ {
		if tok.IsSpecial(t) {
			continue
		}
		g.addArc(g.Start, cur, t, t, 0)
		g.addArc(cur, cur, t, Epsilon, 0)
		g.addArc(cur, g.Start, Epsilon, Epsilon, 0)
		cur++
	}

	g.Final = cur
	g.addArc(g.Start, g.Final, InputEnd, tok.Eos, 0)

	g.NumStates = int64(g.Final) + 1
	g.NumArcs = int64(len(g.Arcs))
	sortArcs(g.Arcs)
	g.setupStates()
	return nil
}
