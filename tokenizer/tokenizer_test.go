package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVocab = `<blk> 0
<unk> 0
<s> 0
</s> 0
▁hello -1.5
▁world -2.0
!	-3.0
`

func TestLoad(t *testing.T) {
	tok, err := Load(strings.NewReader(testVocab))
	require.NoError(t, err)

	assert.Equal(t, 7, tok.Size())
	assert.Equal(t, TokenID(0), tok.Blank)
	assert.Equal(t, TokenID(1), tok.Unk)
	assert.Equal(t, TokenID(2), tok.Bos)
	assert.Equal(t, TokenID(3), tok.Eos)

	id, ok := tok.Index("▁world")
	require.True(t, ok)
	assert.Equal(t, TokenID(5), id)
	assert.Equal(t, "!", tok.Token(6))

	_, ok = tok.Index("missing")
	assert.False(t, ok)
}

func TestBlankUnkFallback(t *testing.T) {
	tok, err := New([]string{"<blank>", "<s>", "</s>", "a"})
	require.NoError(t, err)
	assert.Equal(t, tok.Blank, tok.Unk)

	tok, err = New([]string{"<UNK>", "<bos>", "<eos>", "a"})
	require.NoError(t, err)
	assert.Equal(t, TokenID(0), tok.Blank)
	assert.Equal(t, TokenID(0), tok.Unk)
}

func TestMissingSpecial(t *testing.T) {
	_, err := New([]string{"<blk>", "<s>", "a"})
	require.ErrorIs(t, err, ErrMissingSpecial)

	_, err = New([]string{"<s>", "</s>", "a"})
	require.ErrorIs(t, err, ErrMissingSpecial)
}

func TestDuplicate(t *testing.T) {
	_, err := New([]string{"<blk>", "<s>", "</s>", "a", "a"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestLoadTooManyFields(t *testing.T) {
	_, err := Load(strings.NewReader("a 1 2\n"))
	require.Error(t, err)
}

func TestDetokenize(t *testing.T) {
	tok, err := Load(strings.NewReader(testVocab))
	require.NoError(t, err)

	got := tok.Detokenize([]TokenID{2, 4, 0, 5, 6, 3})
	assert.Equal(t, "hello world!", got)
	assert.True(t, tok.IsSpecial(tok.Eos))
	assert.False(t, tok.IsSpecial(4))
}
