package decoder

import (
	"github.com/ieee0824/stt-decoder-go/arena"
	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/language"
)

// MaxLM is the number of language models a decoder can fuse.
const MaxLM = 4

type lmStates [MaxLM]language.State

// token is one hypothesis. Tokens live in an arena and refer to each other
// by handle.
type token struct {
	score float32
	ctx   lmStates

	// back-pointer
	prev     arena.Handle
	olabel   fsm.Label
	acScore  float32
	lmScores [MaxLM]float32

	next arena.Handle // next token of the same token set, by score

	refs   int32 // tokens whose prev is this one
	linked bool  // member of a token set list
	pinned bool  // part of the lattice

	time  int32 // lattice time slice the token was created for
	owner int32 // index of its token set within that slice
}

// tokenSet holds the hypotheses occupying one (time, state) cell, best first.
type tokenSet struct {
	state  fsm.StateID
	best   float32
	head   arena.Handle
	size   int32
	queued bool
}
