package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVocab = "<blk>\n<unk>\n<s>\n</s>\na\nb\n"

// frames: a, blank, b
const testScores = `-10 -10 -10 -10 0 -10
0 -10 -10 -10 -10 -10
-10 -10 -10 -10 -10 0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runWithStderr(t, args...)
	return out, err
}

func runWithStderr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "warning", "error"} {
		_, err := parseLevel(s)
		assert.NoError(t, err, s)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestGraphCommands(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	topo := filepath.Join(dir, "topo.fsm")

	out, err := run(t, "graph", "topo", "--vocab", vocab, topo)
	require.NoError(t, err)
	assert.Contains(t, out, "arcs")

	text, err := run(t, "graph", "print", topo)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.NotEmpty(t, lines)
	// blank self-loop, three arcs per normal token, and the final arc
	assert.Equal(t, "4,8,0,3", lines[0])

	textPath := writeFile(t, dir, "topo.txt", text)
	compiled := filepath.Join(dir, "compiled.fsm")
	_, err = run(t, "graph", "compile", textPath, compiled)
	require.NoError(t, err)

	again, err := run(t, "graph", "print", compiled)
	require.NoError(t, err)
	assert.Equal(t, text, again)

	info, err := run(t, "graph", "info", compiled)
	require.NoError(t, err)
	assert.Contains(t, info, "states: 4\narcs: 8\n")
	// blank loop, two token entries and the final arc
	assert.Contains(t, info, "max out-degree: 4 (state 0)\n")
	assert.Contains(t, info, "states with epsilon arcs: 2\n")
}

func TestDecodeCommand(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	scores := writeFile(t, dir, "scores.txt", testScores)

	out, err := run(t, "decode", "--vocab", vocab, scores)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", out)

	out, stderr, err := runWithStderr(t, "decode", "--vocab", vocab, "--greedy", "-v", scores)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", out)
	assert.Contains(t, stderr, "Path: a <blk> b\n")

	out, err = run(t, "decode", "--vocab", vocab, "--nbest", "2", "--log-softmax", scores)
	require.NoError(t, err)
	first := strings.SplitN(out, "\n", 2)[0]
	assert.True(t, strings.HasPrefix(first, "1\t"), out)
	assert.True(t, strings.HasSuffix(first, "\tab"), out)

	out, err = run(t, "decode", "--vocab", vocab, "--ref", "a a b", scores)
	require.NoError(t, err)
	assert.Equal(t, "ab\nTER: 0.3333 (1 edits / 3 tokens)\n", out)
}

func TestDecodeCommandErrors(t *testing.T) {
	dir := t.TempDir()
	scores := writeFile(t, dir, "scores.txt", testScores)

	_, err := run(t, "decode", scores)
	require.Error(t, err)

	vocab := writeFile(t, dir, "vocab.txt", testVocab+"c\n")
	_, err = run(t, "decode", "--vocab", vocab, scores)
	require.Error(t, err)

	_, err = run(t, "--log-level", "loud", "decode", "--vocab", vocab, scores)
	require.Error(t, err)
}

func TestDecodeCommandWithFst(t *testing.T) {
	dir := t.TempDir()
	vocab := writeFile(t, dir, "vocab.txt", testVocab)
	scores := writeFile(t, dir, "scores.txt", testScores)
	grammar := writeFile(t, dir, "grammar.txt", "2,3,0,1\n0 0 4/-1\n0 0 5/-1\n0 1 -1:3/0\n")
	onlyB := writeFile(t, dir, "onlyb.txt", "2,2,0,1\n0 0 5/0\n0 1 -1:3/0\n")
	rewrite := writeFile(t, dir, "rewrite.txt", "2,3,0,1\n0 0 4:5/0\n0 0 5/0\n0 1 -1:-1/0\n")

	out, stderr, err := runWithStderr(t, "decode", "--vocab", vocab, "--fst", grammar, "--fst-scale", "0.5", "-v", scores)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", out)
	assert.Contains(t, stderr, "lm -1.0000")

	out, err = run(t, "decode", "--vocab", vocab, "--fst", rewrite+","+onlyB, scores)
	require.NoError(t, err)
	assert.Equal(t, "ab\n", out)

	_, err = run(t, "decode", "--vocab", vocab, "--fst", onlyB, scores)
	require.ErrorContains(t, err, "does not accept")
}

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

func TestLMScoreCommand(t *testing.T) {
	dir := t.TempDir()
	arpa := writeFile(t, dir, "lm.arpa", testARPA)
	text := writeFile(t, dir, "text.txt", "b\na\n\nc\n")

	out, err := run(t, "lm", "score", "--lm", arpa, text)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "-1.1000\tb", lines[0])
	assert.Equal(t, "-3.0000\ta", lines[1])
	assert.Equal(t, "-inf\tc", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "2 sentences, 4 tokens, ppl "), lines[3])

	out, err = run(t, "lm", "score", "--lm", arpa, "--oov-prob", "-5", text)
	require.NoError(t, err)
	assert.Contains(t, out, "-6.0000\tc\n")
	assert.Contains(t, out, "3 sentences, 6 tokens")

	_, err = run(t, "lm", "score", text)
	require.Error(t, err)
}

func TestLMNormalizeCommand(t *testing.T) {
	dir := t.TempDir()
	arpa := writeFile(t, dir, "lm.arpa", testARPA)
	normalized := filepath.Join(dir, "out.arpa")

	out, err := run(t, "lm", "normalize", arpa, normalized)
	require.NoError(t, err)
	assert.Equal(t, normalized+": order 2, 4 1-grams, 2 2-grams\n", out)

	data, err := os.ReadFile(normalized)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\\data\\\nngram 1=4\nngram 2=2\n"), string(data))
	assert.Contains(t, string(data), "-1.000000\t</s>\n-99.000000\t<s>\n")

	// the rewritten model scores like the original
	text := writeFile(t, dir, "text.txt", "a b\n")
	before, err := run(t, "lm", "score", "--lm", arpa, text)
	require.NoError(t, err)
	after, err := run(t, "lm", "score", "--lm", normalized, text)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
