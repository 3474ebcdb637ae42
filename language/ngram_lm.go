package language

import (
	"errors"
	"fmt"

	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

// ErrVocabMismatch is returned when a regular token has no entry in the
// n-gram vocabulary.
var ErrVocabMismatch = errors.New("language: token missing from n-gram vocabulary")

// NGramLM adapts an NGramModel to the Model interface. Histories are
// interned into dense states, so an NGramLM belongs to one decoder and is
// not safe for concurrent use. The underlying NGramModel may be shared.
type NGramLM struct {
	// OOVLogProb, when non-zero, replaces the model's OOVLogProb for this
	// NGramLM only. It is a natural log.
	OOVLogProb float64

	model       *NGramModel
	tokenToWord []WordIndex

	histories [][]WordIndex
	states    map[ngramKey]State
	scratch   []WordIndex
}

// NewNGramLM maps every token of tok onto the vocabulary of model. The
// sentence markers map onto <s> and </s>; blank and unk map onto <unk>.
func NewNGramLM(model *NGramModel, tok *tokenizer.Tokenizer) (*NGramLM, error) {
	lm := &NGramLM{
		model:       model,
		tokenToWord: make([]WordIndex, tok.Size()),
		states:      make(map[ngramKey]State),
	}
	for id := tokenizer.TokenID(0); int(id) < tok.Size(); id++ {
		switch id {
		case tok.Bos:
			lm.tokenToWord[id] = model.Index("<s>")
		case tok.Eos:
			lm.tokenToWord[id] = model.Index("</s>")
		case tok.Blank, tok.Unk:
			lm.tokenToWord[id] = unkIndex
		default:
			w := model.Index(tok.Token(id))
			if w == unkIndex {
				return nil, fmt.Errorf("%w: %q", ErrVocabMismatch, tok.Token(id))
			}
			lm.tokenToWord[id] = w
		}
	}
	lm.intern(nil)
	return lm, nil
}

func (lm *NGramLM) intern(history []WordIndex) State {
	k := makeKey(history)
	if s, ok := lm.states[k]; ok {
		return s
	}
	s := State(len(lm.histories))
	lm.histories = append(lm.histories, append([]WordIndex(nil), history...))
	lm.states[k] = s
	return s
}

// NullState returns the empty history.
func (lm *NGramLM) NullState() State { return 0 }

// GetScore returns the backed-off log probability of w after history s.
func (lm *NGramLM) GetScore(s State, w tokenizer.TokenID) (float32, State, bool) {
	if w < 0 || int(w) >= len(lm.tokenToWord) || s < 0 || int(s) >= len(lm.histories) {
		return 0, 0, false
	}
	word := lm.tokenToWord[w]
	history := lm.histories[s]
	oov := lm.OOVLogProb
	if oov == 0 {
		oov = lm.model.OOVLogProb
	}
	lp, ok := lm.model.score(history, word, oov)
	if !ok {
		return 0, 0, false
	}
	lm.scratch = lm.model.NextHistory(history, word, lm.scratch)
	return float32(lp), lm.intern(lm.scratch), true
}

// Covers checks that every token in ids has a unigram probability, or that
// an OOV floor is set. Longer histories back off to the unigram, so this
// is enough for GetScore to succeed from any history.
func (lm *NGramLM) Covers(ids []tokenizer.TokenID) error {
	for _, id := range ids {
		if id < 0 || int(id) >= len(lm.tokenToWord) {
			return fmt.Errorf("%w: token id %d", ErrVocabMismatch, id)
		}
		if _, _, ok := lm.GetScore(lm.NullState(), id); !ok {
			return fmt.Errorf("%w: token id %d has no probability and no OOV floor is set", ErrVocabMismatch, id)
		}
	}
	return nil
}

// NumStates returns the number of distinct histories seen so far.
func (lm *NGramLM) NumStates() int { return len(lm.histories) }
