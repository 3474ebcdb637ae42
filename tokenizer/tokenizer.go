// Package tokenizer maps token text to integer ids and back, and knows which
// ids are the blank, unknown, begin and end of sentence tokens.
package tokenizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// TokenID is an index into the output vocabulary.
type TokenID = int32

// NoToken marks an undefined special id.
const NoToken TokenID = -1

var (
	ErrMissingSpecial = errors.New("tokenizer: missing special token")
	ErrDuplicate      = errors.New("tokenizer: duplicate token")
)

// Tokenizer is a bidirectional token table. It is read-only after loading.
type Tokenizer struct {
	tokens []string
	index  map[string]TokenID

	Blank TokenID
	Unk   TokenID
	Bos   TokenID
	Eos   TokenID
}

// New builds a tokenizer whose ids are the positions in tokens.
func New(tokens []string) (*Tokenizer, error) {
	t := &Tokenizer{
		tokens: make([]string, 0, len(tokens)),
		index:  make(map[string]TokenID, len(tokens)),
		Blank:  NoToken,
		Unk:    NoToken,
		Bos:    NoToken,
		Eos:    NoToken,
	}
	for _, tok := range tokens {
		if err := t.add(tok); err != nil {
			return nil, err
		}
	}
	if err := t.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads a vocabulary with one "token [score]" entry per line; the
// line number (from 0) is the token id.
func Load(r io.Reader) (*Tokenizer, error) {
	scanner := bufio.NewScanner(r)
	var tokens []string
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		cols := strings.Fields(scanner.Text())
		if len(cols) == 0 {
			continue
		}
		if len(cols) > 2 {
			return nil, fmt.Errorf("line %d: expected token and score, got %d fields", lineNum, len(cols))
		}
		tokens = append(tokens, cols[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(tokens)
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (t *Tokenizer) add(tok string) error {
	if _, ok := t.index[tok]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, tok)
	}
	id := TokenID(len(t.tokens))
	t.tokens = append(t.tokens, tok)
	t.index[tok] = id

	switch tok {
	case "<blk>", "<blank>", "<pad>":
		t.Blank = id
	case "<unk>", "<UNK>":
		t.Unk = id
	case "<s>", "<bos>", "<sos>":
		t.Bos = id
	case "</s>", "<eos>":
		t.Eos = id
	}
	return nil
}

func (t *Tokenizer) finish() error {
	// blank and unk stand in for each other when only one is defined
	if t.Blank == NoToken && t.Unk != NoToken {
		t.Blank = t.Unk
	}
	if t.Unk == NoToken && t.Blank != NoToken {
		t.Unk = t.Blank
	}
	switch {
	case t.Blank == NoToken:
		return fmt.Errorf("%w: blank", ErrMissingSpecial)
	case t.Bos == NoToken:
		return fmt.Errorf("%w: begin of sentence", ErrMissingSpecial)
	case t.Eos == NoToken:
		return fmt.Errorf("%w: end of sentence", ErrMissingSpecial)
	}
	return nil
}

// Size returns the number of tokens.
func (t *Tokenizer) Size() int {
	return len(t.tokens)
}

// Token returns the text of id. It panics on an out-of-range id.
func (t *Tokenizer) Token(id TokenID) string {
	return t.tokens[id]
}

// Index returns the id of tok.
func (t *Tokenizer) Index(tok string) (TokenID, bool) {
	id, ok := t.index[tok]
	return id, ok
}

// Tokens returns the vocabulary in id order.
func (t *Tokenizer) Tokens() []string {
	return t.tokens
}

// IsSpecial reports whether id is one of blank, unk, bos or eos.
func (t *Tokenizer) IsSpecial(id TokenID) bool {
	return id == t.Blank || id == t.Unk || id == t.Bos || id == t.Eos
}

// Detokenize concatenates the text of ids, skipping special tokens.
// SentencePiece word markers become spaces.
func (t *Tokenizer) Detokenize(ids []TokenID) string {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.tokens) || t.IsSpecial(id) {
			continue
		}
		b.WriteString(t.tokens[id])
	}
	return strings.TrimSpace(strings.ReplaceAll(b.String(), "▁", " "))
}
