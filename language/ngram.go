package language

import (
	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
)

// MaxOrder is the highest n-gram order an NGramModel can hold.
const MaxOrder = 6

// WordIndex is a word id in the n-gram model's own vocabulary. Index 0 is
// always <unk>.
type WordIndex = int32

const unkIndex WordIndex = 0

// ngramKey holds up to MaxOrder word indexes, padded with -1.
type ngramKey [MaxOrder]WordIndex

func makeKey(words []WordIndex) ngramKey {
	var k ngramKey
	n := copy(k[:], words)
	for i := n; i < MaxOrder; i++ {
		k[i] = -1
	}
	return k
}

type ngramEntry struct {
	LogProb    float64
	LogBackoff float64
}

// NGramModel represents a backoff n-gram language model. It is read-only
// after loading and safe to share between goroutines.
type NGramModel struct {
	Order int

	// OOVLogProb is the natural log probability given to words without a
	// unigram entry. 0 leaves such words undefined.
	OOVLogProb float64

	words   []string
	index   map[string]WordIndex
	entries map[ngramKey]ngramEntry
	counts  [MaxOrder]int
}

// NewNGramModel creates an empty n-gram model.
func NewNGramModel(order int) *NGramModel {
	return &NGramModel{
		Order:   order,
		words:   []string{"<unk>"},
		index:   map[string]WordIndex{"<unk>": unkIndex},
		entries: make(map[ngramKey]ngramEntry),
	}
}

// Index returns the word index of word, or the <unk> index if it is unknown.
func (m *NGramModel) Index(word string) WordIndex {
	if i, ok := m.index[word]; ok {
		return i
	}
	return unkIndex
}

// Word returns the text of a word index.
func (m *NGramModel) Word(i WordIndex) string {
	return m.words[i]
}

func (m *NGramModel) intern(word string) WordIndex {
	if i, ok := m.index[word]; ok {
		return i
	}
	i := WordIndex(len(m.words))
	m.words = append(m.words, word)
	m.index[word] = i
	return i
}

func (m *NGramModel) add(words []WordIndex, e ngramEntry) {
	k := makeKey(words)
	if _, ok := m.entries[k]; !ok {
		m.counts[len(words)-1]++
	}
	m.entries[k] = e
}

// NumNGrams returns the number of n-grams stored for the given order.
func (m *NGramModel) NumNGrams(order int) int {
	if order < 1 || order > MaxOrder {
		return 0
	}
	return m.counts[order-1]
}

// Contains reports whether words is stored as an n-gram.
func (m *NGramModel) Contains(words []WordIndex) bool {
	if len(words) == 0 || len(words) > MaxOrder {
		return false
	}
	_, ok := m.entries[makeKey(words)]
	return ok
}

// Score returns the log probability of w following history, backing off to
// shorter histories as needed. Only the last Order-1 history words are used.
// ok is false when w has no unigram probability and OOVLogProb is unset.
func (m *NGramModel) Score(history []WordIndex, w WordIndex) (logProb float64, ok bool) {
	return m.score(history, w, m.OOVLogProb)
}

// score is Score with oov in place of OOVLogProb.
func (m *NGramModel) score(history []WordIndex, w WordIndex, oov float64) (float64, bool) {
	if len(history) > m.Order-1 {
		history = history[len(history)-(m.Order-1):]
	}
	var buf [MaxOrder]WordIndex
	backoff := 0.0
	for {
		n := copy(buf[:], history)
		buf[n] = w
		if e, found := m.entries[makeKey(buf[:n+1])]; found {
			return backoff + e.LogProb, true
		}
		if len(history) == 0 {
			if oov != 0 {
				return backoff + oov, true
			}
			return 0, false
		}
		if e, found := m.entries[makeKey(history)]; found {
			backoff += e.LogBackoff
		}
		history = history[1:]
	}
}

// NextHistory returns the history after appending w: the longest suffix of
// history+w, at most Order-1 words, that is stored as an n-gram.
func (m *NGramModel) NextHistory(history []WordIndex, w WordIndex, dst []WordIndex) []WordIndex {
	dst = append(dst[:0], history...)
	dst = append(dst, w)
	if len(dst) > m.Order-1 {
		dst = dst[len(dst)-(m.Order-1):]
	}
	for len(dst) > 0 && !m.Contains(dst) {
		dst = dst[1:]
	}
	return dst
}

// LogProb returns the log probability of a word given its history.
// Uses backoff when the exact n-gram is not found.
func (m *NGramModel) LogProb(history []string, word string) float64 {
	hist := make([]WordIndex, len(history))
	for i, h := range history {
		hist[i] = m.Index(h)
	}
	lp, ok := m.Score(hist, m.Index(word))
	if !ok {
		return mathutil.LogZero
	}
	return lp
}

// SentenceLogProb returns the total log probability of a sentence (word sequence).
// Automatically adds <s> at the beginning and </s> at the end.
func (m *NGramModel) SentenceLogProb(words []string) float64 {
	total := 0.0
	history := []string{"<s>"}
	for _, w := range words {
		total += m.LogProb(history, w)
		history = append(history, w)
	}
	total += m.LogProb(history, "</s>")
	return total
}

// Vocab returns all words in the model vocabulary, <unk> first.
func (m *NGramModel) Vocab() []string {
	return m.words
}
