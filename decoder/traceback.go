package decoder

import (
	"slices"

	"github.com/ieee0824/stt-decoder-go/arena"
	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
)

// traceback collects up to NBest paths ending in the final state of the
// last time slice.
func (d *Decoder) traceback() []Hypothesis {
	last := d.lattice[len(d.lattice)-1]
	var final *tokenSet
	for i := range last {
		if last[i].state == d.graph.Final && last[i].size > 0 {
			final = &last[i]
			break
		}
	}
	if final == nil {
		return nil
	}

	hyps := make([]Hypothesis, 0, min(d.cfg.NBest, int(final.size)))
	for h := final.head; h != arena.Nil && len(hyps) < d.cfg.NBest; h = d.tokens.Get(h).next {
		hyps = append(hyps, d.tracePath(h))
	}

	scores := make([]float64, len(hyps))
	for i := range hyps {
		scores[i] = hyps[i].Score
	}
	for i, p := range mathutil.Posteriors(scores) {
		hyps[i].Confidence = p
	}
	return hyps
}

func (d *Decoder) tracePath(h arena.Handle) Hypothesis {
	end := d.tokens.Get(h)
	hyp := Hypothesis{Score: float64(end.score) + d.totalOffset}
	for h != arena.Nil {
		t := d.tokens.Get(h)
		if t.olabel != fsm.Epsilon {
			hyp.Tokens = append(hyp.Tokens, t.olabel)
			// labels emitted before the first frame count as frame 0
			hyp.Frames = append(hyp.Frames, max(int(t.time)-1, 0))
		}
		hyp.AcousticScore += float64(t.acScore)
		for i := range d.lms {
			hyp.LMScore += float64(t.lmScores[i])
		}
		h = t.prev
	}
	slices.Reverse(hyp.Tokens)
	slices.Reverse(hyp.Frames)
	return hyp
}
