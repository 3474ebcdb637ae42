package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/viterin/vek/vek32"

	sttdecoder "github.com/ieee0824/stt-decoder-go"
	"github.com/ieee0824/stt-decoder-go/decoder"
	"github.com/ieee0824/stt-decoder-go/internal/eval"
	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
	"github.com/ieee0824/stt-decoder-go/internal/modelcache"
	"github.com/ieee0824/stt-decoder-go/internal/scorefile"
)

type decodeFlags struct {
	options    string
	config     string
	vocab      string
	graph      string
	lm         string
	lmScale    float64
	fsts       []string
	fstScale   float64
	oovProb    float64
	beam       float32
	nbest      int
	logSoftmax bool
	greedy     bool
	verbose    bool
	ref        string
}

func newDecodeCmd() *cobra.Command {
	var f decodeFlags
	cmd := &cobra.Command{
		Use:   "decode <scores>",
		Short: "Decode a per-frame score matrix",
		Long: `Decode a text score matrix with one frame per line and one score per
vocabulary token. Without --graph the token topology of the vocabulary is
searched.

Examples:
  sttdecode decode --vocab tokens.txt scores.txt
  sttdecode decode --vocab tokens.txt --lm lm.arpa --lm-scale 0.3 scores.txt
  sttdecode decode --vocab tokens.txt --fst rewrite.fsm,grammar.fsm scores.txt
  sttdecode decode --options recognizer.yaml --nbest 5 scores.txt`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, &f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.options, "options", "", "recognizer YAML file")
	fl.StringVar(&f.config, "config", "", "decoder config YAML file")
	fl.StringVar(&f.vocab, "vocab", "", "vocabulary file")
	fl.StringVar(&f.graph, "graph", "", "decoding graph, text or binary")
	fl.StringVar(&f.lm, "lm", "", "ARPA language model")
	fl.Float64Var(&f.lmScale, "lm-scale", 1, "language model weight")
	fl.StringSliceVar(&f.fsts, "fst", nil, "fst language model graphs, composed left to right")
	fl.Float64Var(&f.fstScale, "fst-scale", 1, "fst language model weight")
	fl.Float64Var(&f.oovProb, "oov-prob", 0, "OOV unigram log10 probability (e.g. -5.0, 0=disable)")
	fl.Float32Var(&f.beam, "beam", 0, "beam width (overrides config)")
	fl.IntVar(&f.nbest, "nbest", 0, "number of hypotheses (overrides config)")
	fl.BoolVar(&f.logSoftmax, "log-softmax", false, "normalize raw logits per frame")
	fl.BoolVar(&f.greedy, "greedy", false, "best-path decoding without graph or LM")
	fl.StringVar(&f.ref, "ref", "", "space separated reference tokens; prints the token error rate")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "print scores and token frames")
	return cmd
}

func runDecode(cmd *cobra.Command, f *decodeFlags, scoresPath string) error {
	opts, err := resolveOptions(cmd, f)
	if err != nil {
		return err
	}

	m, err := scorefile.ReadFile(scoresPath, scorefile.Options{LogSoftmax: f.logSoftmax})
	if err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	out := cmd.OutOrStdout()
	if f.verbose {
		printFrameStats(cmd.ErrOrStderr(), m)
	}

	cache, err := modelcache.New(nil, slog.Default())
	if err != nil {
		return err
	}
	defer cache.Close()

	if f.greedy {
		tok, err := cache.Tokenizer(opts.Vocab)
		if err != nil {
			return fmt.Errorf("load vocabulary: %w", err)
		}
		g := decoder.NewGreedySearch(tok.Blank)
		for t, frame := range m {
			if len(frame) != tok.Size() {
				return fmt.Errorf("frame %d: %w: got %d scores, want %d", t, decoder.ErrFrameSize, len(frame), tok.Size())
			}
			g.Push(frame)
		}
		fmt.Fprintln(out, tok.Detokenize(g.Result()))
		if f.ref != "" {
			var hyp []string
			for _, id := range g.Result() {
				if !tok.IsSpecial(id) {
					hyp = append(hyp, tok.Token(id))
				}
			}
			printErrorRate(out, f.ref, hyp)
		}
		if f.verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "Score: %.4f\n", g.Score())
			path := make([]string, len(g.Path()))
			for t, id := range g.Path() {
				path[t] = tok.Token(id)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Path: %s\n", strings.Join(path, " "))
		}
		return nil
	}

	r, err := sttdecoder.NewRecognizerFromOptions(opts,
		sttdecoder.WithLogger(slog.Default()),
		sttdecoder.WithModelCache(cache))
	if err != nil {
		return err
	}
	results, err := r.Decode(m)
	if err != nil {
		return err
	}

	for i, res := range results {
		if len(results) > 1 {
			fmt.Fprintf(out, "%d\t%.4f\t%.4f\t%s\n", i+1, res.Score, res.Confidence, res.Text)
		} else {
			fmt.Fprintln(out, res.Text)
		}
		if f.verbose {
			h := res.Hypothesis
			fmt.Fprintf(cmd.ErrOrStderr(), "Score: %.4f (acoustic %.4f, lm %.4f)\n", h.Score, h.AcousticScore, h.LMScore)
			for j, id := range h.Tokens {
				fmt.Fprintf(cmd.ErrOrStderr(), "  [%d] %s\n", h.Frames[j], r.Vocab.Token(id))
			}
		}
	}
	if f.ref != "" && len(results) > 0 {
		printErrorRate(out, f.ref, results[0].Tokens)
	}
	return nil
}

func printErrorRate(w io.Writer, ref string, hyp []string) {
	refTokens := strings.Fields(ref)
	fmt.Fprintf(w, "TER: %.4f (%d edits / %d tokens)\n",
		eval.ErrorRate(refTokens, hyp), eval.EditDistance(refTokens, hyp), len(refTokens))
}

// resolveOptions layers the options file, the decoder config file and
// explicitly set flags, in that order.
func resolveOptions(cmd *cobra.Command, f *decodeFlags) (sttdecoder.Options, error) {
	opts := sttdecoder.DefaultOptions()
	var err error
	if f.options != "" {
		if opts, err = sttdecoder.LoadOptions(f.options); err != nil {
			return opts, err
		}
	}
	if f.config != "" {
		if opts.Decoder, err = decoder.LoadConfig(f.config); err != nil {
			return opts, err
		}
	}

	fl := cmd.Flags()
	if fl.Changed("vocab") {
		opts.Vocab = f.vocab
	}
	if fl.Changed("graph") {
		opts.Graph = f.graph
	}
	if fl.Changed("lm") {
		opts.LM = f.lm
	}
	if fl.Changed("lm-scale") {
		opts.LMScale = f.lmScale
	}
	if len(f.fsts) > 0 {
		opts.LMs = append(opts.LMs, sttdecoder.LMOptions{
			Kind:    sttdecoder.LMKindFst,
			Path:    f.fsts[0],
			Compose: f.fsts[1:],
			Scale:   f.fstScale,
		})
	}
	if fl.Changed("oov-prob") {
		opts.OOVLogProb = f.oovProb
	}
	if fl.Changed("beam") {
		opts.Decoder.Beam = f.beam
	}
	if fl.Changed("nbest") {
		opts.Decoder.NBest = f.nbest
	}

	if opts.Vocab == "" {
		return opts, fmt.Errorf("a vocabulary is required (--vocab or --options)")
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func printFrameStats(w io.Writer, m mathutil.Mat32) {
	if len(m) == 0 {
		fmt.Fprintln(w, "Frames: 0")
		return
	}
	best := make([]float32, len(m))
	for t, frame := range m {
		best[t] = vek32.Max(frame)
	}
	fmt.Fprintf(w, "Frames: %d, mean best score: %.4f\n", len(m), vek32.Mean(best))
}
