package main

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
	"github.com/ieee0824/stt-decoder-go/language"
)

func newLMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lm",
		Short: "Score text with and rewrite ARPA language models",
	}
	cmd.AddCommand(newLMScoreCmd(), newLMNormalizeCmd())
	return cmd
}

func newLMScoreCmd() *cobra.Command {
	var (
		lmPath  string
		oovProb float64
	)
	cmd := &cobra.Command{
		Use:   "score [text]",
		Short: "Print the log10 probability of each line of space separated words",
		Long: `Score each non-empty line of text (stdin when no file is given) with an
ARPA model and print its log10 probability, then the perplexity of all
scored lines. Lines with a word the model cannot score are reported as
-inf and left out of the perplexity unless --oov-prob is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := language.LoadARPAFile(lmPath)
			if err != nil {
				return err
			}
			model.OOVLogProb = mathutil.Log10ToLn(oovProb)

			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return scoreLines(cmd.OutOrStdout(), model, in)
		},
	}
	cmd.Flags().StringVar(&lmPath, "lm", "", "ARPA language model")
	cmd.Flags().Float64Var(&oovProb, "oov-prob", 0, "OOV unigram log10 probability (e.g. -5.0, 0=disable)")
	cmd.MarkFlagRequired("lm")
	return cmd
}

func scoreLines(w io.Writer, model *language.NGramModel, r io.Reader) error {
	var (
		total     float64
		sentences int
		tokens    int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		words := strings.Fields(sc.Text())
		if len(words) == 0 {
			continue
		}
		text := strings.Join(words, " ")
		lp := model.SentenceLogProb(words)
		if lp <= mathutil.LogZero {
			fmt.Fprintf(w, "-inf\t%s\n", text)
			continue
		}
		fmt.Fprintf(w, "%.4f\t%s\n", lp/math.Ln10, text)
		total += lp
		sentences++
		tokens += len(words) + 1 // </s>
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read text: %w", err)
	}
	if tokens > 0 {
		fmt.Fprintf(w, "%d sentences, %d tokens, ppl %.4f\n", sentences, tokens, math.Exp(-total/float64(tokens)))
	}
	return nil
}

func newLMNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <in> <out>",
		Short: "Rewrite an ARPA model with sorted n-grams",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, err := language.LoadARPAFile(args[0])
			if err != nil {
				return err
			}
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			if err := model.WriteARPA(f); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: order %d", args[1], model.Order)
			for n := 1; n <= model.Order; n++ {
				fmt.Fprintf(cmd.OutOrStdout(), ", %d %d-grams", model.NumNGrams(n), n)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
