package sttdecoder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieee0824/stt-decoder-go/decoder"
	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/internal/modelcache"
	"github.com/ieee0824/stt-decoder-go/language"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

const testVocab = "<blk>\n<unk>\n<s>\n</s>\na\nb\n"

const testARPA = `\data\
ngram 1=4
ngram 2=2

\1-grams:
-1.0	</s>
-99	<s>	0
-2.0	a	0
-0.5	b	0

\2-grams:
-2.0	<s>	a
-0.1	<s>	b

\end\
`

// Token ids of testVocab.
const (
	blk = 0
	tkA = 4
	tkB = 5
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func frame(hot int) []float32 {
	f := []float32{-10, -10, -10, -10, -10, -10}
	f[hot] = 0
	return f
}

// a is slightly preferred acoustically, b strongly by the language model.
var ambiguous = [][]float32{{-10, -10, -10, -10, -0.9, -1}}

func TestRecognizerTopology(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecognizer("", writeFile(t, dir, "vocab.txt", testVocab))
	require.NoError(t, err)
	require.NotNil(t, r.Graph)

	results, err := r.Decode([][]float32{frame(tkA), frame(blk), frame(tkB)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ab", results[0].Text)
	assert.Equal(t, []string{"a", "b"}, results[0].Tokens)
	assert.InDelta(t, 1, results[0].Confidence, 1e-9)
}

func TestRecognizerWithNGram(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	arpa := writeFile(t, dir, "lm.arpa", testARPA)

	plain, err := NewRecognizer("", vocab)
	require.NoError(t, err)
	results, err := plain.Decode(ambiguous)
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].Text)

	fused, err := NewRecognizer("", vocab, WithNGramFile(arpa, 1))
	require.NoError(t, err)
	require.Len(t, fused.LMs, 1)
	require.NotNil(t, fused.LMs[0].NGram)
	results, err = fused.Decode(ambiguous)
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
}

func TestRecognizerVocabMismatch(t *testing.T) {
	dir := t.TempDir()
	_, err := NewRecognizer("",
		writeFile(t, dir, "vocab.txt", testVocab+"c\n"),
		WithNGramFile(writeFile(t, dir, "lm.arpa", testARPA), 1))
	require.ErrorIs(t, err, language.ErrVocabMismatch)
}

func TestRecognizerFromOptions(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	arpa := writeFile(t, dir, "lm.arpa", testARPA)

	tok, err := tokenizer.LoadFile(vocab)
	require.NoError(t, err)
	var g fsm.Graph
	require.NoError(t, g.BuildTokenTopology(tok))
	graph := filepath.Join(dir, "topo.fsm")
	require.NoError(t, g.WriteFile(graph))

	yml := strings.Join([]string{
		"graph: " + graph,
		"vocab: " + vocab,
		"lm: " + arpa,
		"lm_scale: 0.5",
		"decoder:",
		"  beam: 10",
		"  nbest: 2",
	}, "\n")
	opts, err := LoadOptions(writeFile(t, dir, "recognizer.yaml", yml))
	require.NoError(t, err)
	assert.Equal(t, 0.5, opts.LMScale)
	assert.Equal(t, float32(10), opts.Decoder.Beam)
	assert.Equal(t, 2, opts.Decoder.NBest)
	// unset fields keep their defaults
	assert.Equal(t, 8, opts.Decoder.MinActive)

	r, err := NewRecognizerFromOptions(opts)
	require.NoError(t, err)
	assert.Equal(t, g.Arcs, r.Graph.Arcs)
	require.Len(t, r.LMs, 1)
	assert.Equal(t, 0.5, r.LMs[0].Scale)

	results, err := r.Decode([][]float32{frame(tkB)})
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
}

func TestLoadOptionsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadOptions(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = LoadOptions(writeFile(t, dir, "novocab.yaml", "lm_scale: 1\n"))
	require.Error(t, err)

	_, err = LoadOptions(writeFile(t, dir, "badbeam.yaml", "vocab: v\ndecoder:\n  beam: -1\n"))
	require.Error(t, err)

	_, err = LoadOptions(writeFile(t, dir, "badkind.yaml", "vocab: v\nlms:\n  - kind: rnn\n    path: x\n"))
	require.ErrorContains(t, err, "unknown kind")

	_, err = LoadOptions(writeFile(t, dir, "nopath.yaml", "vocab: v\nlms:\n  - kind: fst\n"))
	require.ErrorContains(t, err, "path is required")

	_, err = LoadOptions(writeFile(t, dir, "arpacompose.yaml", "vocab: v\nlms:\n  - kind: arpa\n    path: x\n    compose: [y]\n"))
	require.Error(t, err)

	many := "vocab: v\nlm: x.arpa\nlms:\n" + strings.Repeat("  - kind: fst\n    path: x\n", 4)
	_, err = LoadOptions(writeFile(t, dir, "many.yaml", many))
	require.ErrorIs(t, err, decoder.ErrTooManyLMs)
}

func TestSessionReuse(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecognizer("", writeFile(t, dir, "vocab.txt", testVocab))
	require.NoError(t, err)

	s, err := r.NewSession()
	require.NoError(t, err)
	assert.Empty(t, s.Key())

	require.NoError(t, s.Push(frame(tkA)))
	first := s.Key()
	assert.NotEmpty(t, first)
	results, err := s.Finish()
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].Text)

	// finished sessions accept no more frames until reset
	require.Error(t, s.Push(frame(tkA)))
	require.NoError(t, s.Reset())
	assert.Zero(t, s.NumFrames())

	require.NoError(t, s.Push(frame(tkB)))
	assert.NotEqual(t, first, s.Key())
	results, err = s.Finish()
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
}

func TestRecognizersShareModelCache(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	arpa := writeFile(t, dir, "lm.arpa", testARPA)

	cache, err := modelcache.New(nil, nil)
	require.NoError(t, err)
	defer cache.Close()

	r1, err := NewRecognizer("", vocab, WithModelCache(cache), WithNGramFile(arpa, 1))
	require.NoError(t, err)
	r2, err := NewRecognizer("", vocab, WithModelCache(cache), WithNGramFile(arpa, 1))
	require.NoError(t, err)

	assert.Same(t, r1.Vocab, r2.Vocab)
	assert.Same(t, r1.LMs[0].NGram, r2.LMs[0].NGram)
}

func TestNewRecognizerFromModels(t *testing.T) {
	_, err := NewRecognizerFromModels(nil, nil)
	require.Error(t, err)

	tok, err := tokenizer.Load(strings.NewReader(testVocab))
	require.NoError(t, err)
	model, err := language.LoadARPA(strings.NewReader(testARPA))
	require.NoError(t, err)

	r, err := NewRecognizerFromModels(nil, tok, WithNGram(model, 1), WithOOVLogProb(-5))
	require.NoError(t, err)
	assert.Zero(t, model.OOVLogProb)

	results, err := r.Decode(ambiguous)
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
}

// unkGraph emits <unk> for every frame it reads.
const unkGraph = "2,2,0,1\n0 0 1/0\n0 1 -1:3/0\n"

func TestOOVFloorIsPerRecognizer(t *testing.T) {
	tok, err := tokenizer.Load(strings.NewReader(testVocab))
	require.NoError(t, err)
	model, err := language.LoadARPA(strings.NewReader(testARPA))
	require.NoError(t, err)
	var g fsm.Graph
	require.NoError(t, g.LoadFromString(strings.NewReader(unkGraph)))

	// <unk> has no probability in the model
	_, err = NewRecognizerFromModels(&g, tok, WithNGram(model, 1))
	require.ErrorIs(t, err, language.ErrVocabMismatch)

	floored, err := NewRecognizerFromModels(&g, tok, WithNGram(model, 1), WithOOVLogProb(-5))
	require.NoError(t, err)
	results, err := floored.Decode([][]float32{frame(1)})
	require.NoError(t, err)
	assert.Equal(t, []tokenizer.TokenID{1, 3}, results[0].Hypothesis.Tokens)
	assert.Less(t, results[0].Hypothesis.LMScore, -11.0)

	// a recognizer sharing the model sees no floor
	assert.Zero(t, model.OOVLogProb)
	_, err = NewRecognizerFromModels(&g, tok, WithNGram(model, 1))
	require.ErrorIs(t, err, language.ErrVocabMismatch)
}

// prefersB is a unigram acceptor over a and b with a final weight.
const prefersB = "2,3,0,1\n0 0 4/-5\n0 0 5/-0.1\n0 1 -1:3/0\n"

func TestRecognizerWithFst(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	grammar := writeFile(t, dir, "grammar.txt", prefersB)

	r, err := NewRecognizer("", vocab, WithLM(LMOptions{Kind: LMKindFst, Path: grammar}))
	require.NoError(t, err)
	require.Len(t, r.LMs, 1)
	require.Len(t, r.LMs[0].Fsts, 1)
	assert.Equal(t, 1.0, r.LMs[0].Scale)

	results, err := r.Decode(ambiguous)
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
	assert.InDelta(t, -0.1, results[0].Hypothesis.LMScore, 1e-5)

	// sessions build their own models and can run side by side
	s1, err := r.NewSession()
	require.NoError(t, err)
	s2, err := r.NewSession()
	require.NoError(t, err)
	require.NoError(t, s1.Push(frame(tkA)))
	require.NoError(t, s2.Push(frame(tkB)))
	r1, err := s1.Finish()
	require.NoError(t, err)
	r2, err := s2.Finish()
	require.NoError(t, err)
	assert.Equal(t, "a", r1[0].Text)
	assert.Equal(t, "b", r2[0].Text)
}

func TestRecognizerFstCoverage(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)

	// the topology emits a, which onlyB cannot read
	onlyB := writeFile(t, dir, "onlyb.txt", "2,2,0,1\n0 0 5/0\n0 1 -1:3/0\n")
	_, err := NewRecognizer("", vocab, WithLM(LMOptions{Kind: LMKindFst, Path: onlyB}))
	require.ErrorIs(t, err, language.ErrCoverage)

	// rewriting a to b first makes the chain cover the topology
	rewrite := writeFile(t, dir, "rewrite.txt", "2,3,0,1\n0 0 4:5/0\n0 0 5/0\n0 1 -1:-1/0\n")
	r, err := NewRecognizer("", vocab, WithLM(LMOptions{Kind: LMKindFst, Path: rewrite, Compose: []string{onlyB}}))
	require.NoError(t, err)
	require.Len(t, r.LMs[0].Fsts, 2)
	results, err := r.Decode([][]float32{frame(tkA), frame(blk), frame(tkB)})
	require.NoError(t, err)
	assert.Equal(t, "ab", results[0].Text)

	_, err = NewRecognizer("", vocab, WithLM(LMOptions{Kind: LMKindFst, Path: filepath.Join(dir, "missing.txt")}))
	require.Error(t, err)
}

func TestRecognizerFromOptionsWithLMList(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	arpa := writeFile(t, dir, "lm.arpa", testARPA)
	grammar := writeFile(t, dir, "grammar.txt", prefersB)

	yml := strings.Join([]string{
		"vocab: " + vocab,
		"lm: " + arpa,
		"lm_scale: 0.5",
		"lms:",
		"  - kind: fst",
		"    path: " + grammar,
		"    scale: 2",
	}, "\n")
	opts, err := LoadOptions(writeFile(t, dir, "recognizer.yaml", yml))
	require.NoError(t, err)
	lms := opts.LanguageModels()
	require.Len(t, lms, 2)
	assert.Equal(t, LMOptions{Kind: LMKindARPA, Path: arpa, Scale: 0.5}, lms[0])
	assert.Equal(t, LMKindFst, lms[1].Kind)

	cache, err := modelcache.New(nil, nil)
	require.NoError(t, err)
	defer cache.Close()

	r, err := NewRecognizerFromOptions(opts, WithModelCache(cache))
	require.NoError(t, err)
	require.Len(t, r.LMs, 2)
	assert.NotNil(t, r.LMs[0].NGram)
	assert.Equal(t, 2.0, r.LMs[1].Scale)

	results, err := r.Decode(ambiguous)
	require.NoError(t, err)
	assert.Equal(t, "b", results[0].Text)
}
