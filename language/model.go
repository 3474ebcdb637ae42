// Package language holds the language models the decoder fuses into its
// search. Every model is a state machine over words: scoring a word in a
// state yields a log-domain score (higher is better) and the next state.
package language

import "github.com/ieee0824/stt-decoder-go/tokenizer"

// State is an opaque language model context.
type State = int32

// Model scores words in context.
type Model interface {
	// NullState returns the context at the start of a sentence.
	NullState() State
	// GetScore scores w in state s. ok is false when w cannot follow s.
	GetScore(s State, w tokenizer.TokenID) (score float32, next State, ok bool)
}

// ContextHash assigns every word sequence its own state and scores nothing.
// The decoder uses it to keep hypotheses with different outputs apart when
// no real language model is loaded.
type ContextHash struct{}

const contextHashPrime = 7853

func (ContextHash) NullState() State { return 0 }

func (ContextHash) GetScore(s State, w tokenizer.TokenID) (float32, State, bool) {
	return 0, State(uint32(s)*contextHashPrime + uint32(w)), true
}
