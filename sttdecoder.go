// Package sttdecoder turns per-frame token scores into text. It loads a
// decoding graph, a vocabulary and optional language models, and hands out
// independent decoding sessions.
package sttdecoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ieee0824/stt-decoder-go/decoder"
	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
	"github.com/ieee0824/stt-decoder-go/internal/modelcache"
	"github.com/ieee0824/stt-decoder-go/language"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

// Language model kinds of LMOptions.
const (
	LMKindARPA = "arpa"
	LMKindFst  = "fst"
)

// LMOptions describes one fused language model file.
type LMOptions struct {
	Kind string `yaml:"kind"` // arpa or fst
	Path string `yaml:"path"`
	// Compose lists fst graphs fed by the output of Path, in order.
	Compose []string `yaml:"compose"`
	Scale   float64  `yaml:"scale"` // 0 means 1
}

func (o LMOptions) validate() error {
	switch o.Kind {
	case LMKindARPA:
		if len(o.Compose) > 0 {
			return fmt.Errorf("lm %s: compose needs kind %s", o.Path, LMKindFst)
		}
	case LMKindFst:
	default:
		return fmt.Errorf("lm %s: unknown kind %q", o.Path, o.Kind)
	}
	if o.Path == "" {
		return errors.New("lm: path is required")
	}
	return nil
}

// Options is the YAML form of a recognizer setup. An empty Graph means the
// token topology is built from the vocabulary. LM and LMScale are a
// shorthand for a first ARPA entry in LMs.
type Options struct {
	Graph      string         `yaml:"graph"`
	Vocab      string         `yaml:"vocab"`
	LM         string         `yaml:"lm"`
	LMScale    float64        `yaml:"lm_scale"`
	LMs        []LMOptions    `yaml:"lms"`
	OOVLogProb float64        `yaml:"oov_log_prob"` // log10; 0 disables
	Decoder    decoder.Config `yaml:"decoder"`
}

// DefaultOptions returns options with the default decoder config.
func DefaultOptions() Options {
	return Options{
		LMScale: 1,
		Decoder: decoder.DefaultConfig(),
	}
}

// LanguageModels returns every fused model, the LM shorthand first.
func (o Options) LanguageModels() []LMOptions {
	var lms []LMOptions
	if o.LM != "" {
		lms = append(lms, LMOptions{Kind: LMKindARPA, Path: o.LM, Scale: o.LMScale})
	}
	return append(lms, o.LMs...)
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	if o.Vocab == "" {
		return errors.New("options: vocab is required")
	}
	lms := o.LanguageModels()
	if len(lms) > decoder.MaxLM {
		return fmt.Errorf("options: %w: %d > %d", decoder.ErrTooManyLMs, len(lms), decoder.MaxLM)
	}
	for _, lm := range lms {
		if err := lm.validate(); err != nil {
			return fmt.Errorf("options: %w", err)
		}
	}
	if err := o.Decoder.Validate(); err != nil {
		return fmt.Errorf("invalid decoder config: %w", err)
	}
	return nil
}

// LoadOptions reads a recognizer.yaml file on top of DefaultOptions.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read options: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parse options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// FusedLM is one language model fused into every session. Exactly one of
// NGram and Fsts is set; Fsts are composed left to right.
type FusedLM struct {
	NGram *language.NGramModel
	Fsts  []*language.BackoffFst
	Scale float64
}

// lmSource is a FusedLM given either loaded or as files.
type lmSource struct {
	loaded *FusedLM
	files  LMOptions
}

// Recognizer holds the read-only models shared by its sessions.
type Recognizer struct {
	Graph  *fsm.Graph
	Vocab  *tokenizer.Tokenizer
	LMs    []FusedLM
	DecCfg decoder.Config

	sources    []lmSource
	oovLogProb float64 // natural log
	cache      *modelcache.Cache
	logger     *slog.Logger
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithDecoderConfig sets custom decoder parameters.
func WithDecoderConfig(cfg decoder.Config) Option {
	return func(r *Recognizer) {
		r.DecCfg = cfg
	}
}

// WithLM fuses the language model files described by o.
func WithLM(o LMOptions) Option {
	return func(r *Recognizer) {
		r.sources = append(r.sources, lmSource{files: o})
	}
}

// WithNGramFile fuses the ARPA model at path, weighted by scale.
func WithNGramFile(path string, scale float64) Option {
	return WithLM(LMOptions{Kind: LMKindARPA, Path: path, Scale: scale})
}

// WithNGram fuses an already loaded model, weighted by scale.
func WithNGram(lm *language.NGramModel, scale float64) Option {
	return func(r *Recognizer) {
		r.sources = append(r.sources, lmSource{loaded: &FusedLM{NGram: lm, Scale: scale}})
	}
}

// WithFst fuses the composition of already loaded fsts, weighted by scale.
func WithFst(scale float64, fsts ...*language.BackoffFst) Option {
	return func(r *Recognizer) {
		r.sources = append(r.sources, lmSource{loaded: &FusedLM{Fsts: fsts, Scale: scale}})
	}
}

// WithOOVLogProb sets the OOV unigram probability of n-gram models in
// log10 (e.g. -5.0). The loaded models themselves are not changed.
func WithOOVLogProb(log10prob float64) Option {
	return func(r *Recognizer) {
		r.oovLogProb = mathutil.Log10ToLn(log10prob)
	}
}

// WithModelCache loads files through c so recognizers share them.
func WithModelCache(c *modelcache.Cache) Option {
	return func(r *Recognizer) {
		r.cache = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recognizer) {
		r.logger = logger
	}
}

func newRecognizer(opts []Option) *Recognizer {
	r := &Recognizer{DecCfg: decoder.DefaultConfig()}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// NewRecognizer loads a recognizer from files. An empty graphPath builds
// the token topology from the vocabulary.
func NewRecognizer(graphPath, vocabPath string, opts ...Option) (*Recognizer, error) {
	r := newRecognizer(opts)

	var err error
	if r.cache != nil {
		r.Vocab, err = r.cache.Tokenizer(vocabPath)
	} else {
		r.Vocab, err = tokenizer.LoadFile(vocabPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}

	if graphPath != "" {
		if r.Graph, err = r.readGraph(graphPath); err != nil {
			return nil, fmt.Errorf("load graph: %w", err)
		}
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRecognizerFromOptions loads the files named in o. Extra options are
// applied after the ones derived from o.
func NewRecognizerFromOptions(o Options, opts ...Option) (*Recognizer, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	base := []Option{WithDecoderConfig(o.Decoder), WithOOVLogProb(o.OOVLogProb)}
	for _, lm := range o.LanguageModels() {
		base = append(base, WithLM(lm))
	}
	return NewRecognizer(o.Graph, o.Vocab, append(base, opts...)...)
}

// NewRecognizerFromModels creates a Recognizer from pre-loaded models. A nil
// graph builds the token topology from vocab.
func NewRecognizerFromModels(g *fsm.Graph, vocab *tokenizer.Tokenizer, opts ...Option) (*Recognizer, error) {
	r := newRecognizer(opts)
	r.Graph = g
	r.Vocab = vocab
	if err := r.finish(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recognizer) readGraph(path string) (*fsm.Graph, error) {
	if r.cache != nil {
		return r.cache.Graph(path)
	}
	return fsm.ReadFile(path)
}

func (r *Recognizer) readNGram(path string) (*language.NGramModel, error) {
	if r.cache != nil {
		return r.cache.NGram(path)
	}
	return language.LoadARPAFile(path)
}

// load turns a file description into a FusedLM.
func (r *Recognizer) load(o LMOptions) (FusedLM, error) {
	lm := FusedLM{Scale: o.Scale}
	if err := o.validate(); err != nil {
		return lm, err
	}
	if o.Kind == LMKindARPA {
		model, err := r.readNGram(o.Path)
		if err != nil {
			return lm, fmt.Errorf("load language model: %w", err)
		}
		lm.NGram = model
		return lm, nil
	}
	for _, path := range append([]string{o.Path}, o.Compose...) {
		g, err := r.readGraph(path)
		if err != nil {
			return lm, fmt.Errorf("load fst %s: %w", path, err)
		}
		f, err := language.NewBackoffFst(g)
		if err != nil {
			return lm, fmt.Errorf("load fst %s: %w", path, err)
		}
		lm.Fsts = append(lm.Fsts, f)
	}
	return lm, nil
}

func (r *Recognizer) finish() error {
	if r.Vocab == nil {
		return errors.New("recognizer: vocabulary is required")
	}
	if r.Graph == nil {
		var g fsm.Graph
		if err := g.BuildTokenTopology(r.Vocab); err != nil {
			return fmt.Errorf("build token topology: %w", err)
		}
		r.Graph = &g
	}

	for _, src := range r.sources {
		lm := src.loaded
		if lm == nil {
			loaded, err := r.load(src.files)
			if err != nil {
				return err
			}
			lm = &loaded
		}
		if lm.Scale == 0 {
			lm.Scale = 1
		}
		r.LMs = append(r.LMs, *lm)
	}
	r.sources = nil
	if len(r.LMs) > decoder.MaxLM {
		return fmt.Errorf("recognizer: %w: %d > %d", decoder.ErrTooManyLMs, len(r.LMs), decoder.MaxLM)
	}

	// every LM must score every label the graph can emit
	labels := outputLabels(r.Graph, r.Vocab.Eos)
	for i, lm := range r.LMs {
		if err := r.checkCoverage(lm, labels); err != nil {
			return fmt.Errorf("language model %d: %w", i, err)
		}
	}

	if err := r.DecCfg.Validate(); err != nil {
		return fmt.Errorf("invalid decoder config: %w", err)
	}
	r.logger.Info("recognizer ready",
		"states", r.Graph.NumStates,
		"arcs", r.Graph.NumArcs,
		"tokens", r.Vocab.Size(),
		"lms", len(r.LMs))
	return nil
}

// outputLabels returns the distinct output labels of g other than epsilon
// and eos.
func outputLabels(g *fsm.Graph, eos tokenizer.TokenID) []fsm.Label {
	var labels []fsm.Label
	for _, a := range g.Arcs {
		if a.OLabel != fsm.Epsilon && a.OLabel != eos {
			labels = append(labels, a.OLabel)
		}
	}
	slices.Sort(labels)
	return slices.Compact(labels)
}

func (r *Recognizer) checkCoverage(lm FusedLM, labels []fsm.Label) error {
	if lm.NGram != nil {
		nlm, err := r.newNGramLM(lm.NGram)
		if err != nil {
			return err
		}
		return nlm.Covers(append(slices.Clone(labels), r.Vocab.Eos))
	}
	if len(lm.Fsts) == 0 {
		return errors.New("no model given")
	}
	for _, f := range lm.Fsts {
		// InputEnd carries the final weight used for eos
		if err := f.Covers(append(slices.Clone(labels), fsm.InputEnd)); err != nil {
			return err
		}
		labels = f.OutputLabels()
	}
	return nil
}

func (r *Recognizer) newNGramLM(model *language.NGramModel) (*language.NGramLM, error) {
	nlm, err := language.NewNGramLM(model, r.Vocab)
	if err != nil {
		return nil, err
	}
	nlm.OOVLogProb = r.oovLogProb
	return nlm, nil
}

// NewSession creates a decoder bound to the recognizer's models. Sessions
// share no mutable state and may run on different goroutines.
func (r *Recognizer) NewSession() (*Session, error) {
	var lms []language.Model
	for _, lm := range r.LMs {
		var m language.Model
		if lm.NGram != nil {
			nlm, err := r.newNGramLM(lm.NGram)
			if err != nil {
				return nil, err
			}
			m = nlm
		} else {
			var f language.Fst = lm.Fsts[0]
			for _, next := range lm.Fsts[1:] {
				f = language.NewComposeFst(f, next)
			}
			m = language.NewFstModel(f, r.Vocab.Eos)
		}
		scaled, err := language.NewScaleCache(m, float32(lm.Scale), language.DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		lms = append(lms, scaled)
	}

	dec := decoder.New(r.logger)
	if err := dec.Load(r.DecCfg, r.Graph, r.Vocab, lms...); err != nil {
		return nil, err
	}
	return &Session{vocab: r.Vocab, dec: dec}, nil
}

// Decode runs one utterance through a fresh session.
func (r *Recognizer) Decode(frames [][]float32) ([]Result, error) {
	s, err := r.NewSession()
	if err != nil {
		return nil, err
	}
	for t, frame := range frames {
		if err := s.Push(frame); err != nil {
			return nil, fmt.Errorf("frame %d: %w", t, err)
		}
	}
	return s.Finish()
}

// Result is one decoded hypothesis.
type Result struct {
	Text       string
	Tokens     []string // non-special tokens
	Score      float64
	Confidence float64
	Hypothesis decoder.Hypothesis
}

// Session decodes one utterance at a time.
type Session struct {
	vocab *tokenizer.Tokenizer
	dec   *decoder.Decoder
}

// Push feeds one frame of per-token log scores.
func (s *Session) Push(frame []float32) error {
	return s.dec.Push(frame)
}

// Finish ends the utterance and returns the N-best results, best first.
func (s *Session) Finish() ([]Result, error) {
	if err := s.dec.PushEos(); err != nil {
		return nil, err
	}
	nbest := s.dec.NBest()
	results := make([]Result, len(nbest))
	for i, h := range nbest {
		results[i] = Result{
			Text:       s.vocab.Detokenize(h.Tokens),
			Score:      h.Score,
			Confidence: h.Confidence,
			Hypothesis: h,
		}
		for _, id := range h.Tokens {
			if !s.vocab.IsSpecial(id) {
				results[i].Tokens = append(results[i].Tokens, s.vocab.Token(id))
			}
		}
	}
	return results, nil
}

// Reset prepares a finished session for the next utterance.
func (s *Session) Reset() error {
	return s.dec.Reset()
}

// Key identifies the current utterance in logs. It is empty until the
// first frame is pushed.
func (s *Session) Key() string {
	return s.dec.SessionKey()
}

// NumFrames reports how many frames the current utterance has consumed.
func (s *Session) NumFrames() int {
	return s.dec.NumFrames()
}
