package decoder

import "github.com/ieee0824/stt-decoder-go/tokenizer"

// Hypothesis is one traced-back path through the lattice.
type Hypothesis struct {
	Tokens []tokenizer.TokenID // output labels, epsilon removed
	// Frames holds the index of the frame each token was emitted at. Tokens
	// emitted before the first frame are at 0 and the end-of-sentence token
	// is at NumFrames.
	Frames []int

	Score         float64 // total log score
	AcousticScore float64 // sum of frame scores along the path
	LMScore       float64 // sum of fused language model scores
	Confidence    float64 // posterior within the N-best list
}
