package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build, convert and inspect decoding graphs",
	}
	cmd.AddCommand(newGraphCompileCmd(), newGraphTopoCmd(), newGraphPrintCmd(), newGraphInfoCmd())
	return cmd
}

func newGraphCompileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <in> <out>",
		Short: "Convert a text graph to the binary format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fsm.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := g.WriteFile(args[1]); err != nil {
				return fmt.Errorf("write %s: %w", args[1], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d states, %d arcs\n", args[1], g.NumStates, g.NumArcs)
			return nil
		},
	}
}

func newGraphTopoCmd() *cobra.Command {
	var vocabPath string
	cmd := &cobra.Command{
		Use:   "topo <out>",
		Short: "Build the token topology of a vocabulary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := tokenizer.LoadFile(vocabPath)
			if err != nil {
				return fmt.Errorf("load vocabulary: %w", err)
			}
			var g fsm.Graph
			if err := g.BuildTokenTopology(tok); err != nil {
				return err
			}
			if err := g.WriteFile(args[0]); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d states, %d arcs\n", args[0], g.NumStates, g.NumArcs)
			return nil
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocab", "", "vocabulary file")
	cmd.MarkFlagRequired("vocab")
	return cmd
}

func newGraphPrintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print <graph>",
		Short: "Print a text or binary graph in text form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fsm.ReadFile(args[0])
			if err != nil {
				return err
			}
			return g.WriteText(cmd.OutOrStdout())
		},
	}
}

func newGraphInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <graph>",
		Short: "Print the size and shape of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := fsm.ReadFile(args[0])
			if err != nil {
				return err
			}
			printGraphInfo(cmd.OutOrStdout(), g)
			return nil
		},
	}
}

func printGraphInfo(w io.Writer, g *fsm.Graph) {
	var (
		maxDegree, maxState int
		epsilonStates       int
	)
	for s := fsm.StateID(0); int64(s) < g.NumStates; s++ {
		if d := g.OutDegree(s); d > maxDegree {
			maxDegree, maxState = d, int(s)
		}
		if g.HasEpsilonArcs(s) {
			epsilonStates++
		}
	}
	fmt.Fprintf(w, "states: %d\n", g.NumStates)
	fmt.Fprintf(w, "arcs: %d\n", g.NumArcs)
	fmt.Fprintf(w, "start: %d\n", g.Start)
	fmt.Fprintf(w, "final: %d\n", g.Final)
	fmt.Fprintf(w, "max out-degree: %d (state %d)\n", maxDegree, maxState)
	fmt.Fprintf(w, "states with epsilon arcs: %d\n", epsilonStates)
}
