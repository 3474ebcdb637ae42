// Package decoder implements frame-synchronous beam search over a
// weighted finite-state graph, with shallow fusion of up to MaxLM language
// models.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/ieee0824/stt-decoder-go/arena"
	"github.com/ieee0824/stt-decoder-go/fsm"
	"github.com/ieee0824/stt-decoder-go/internal/mathutil"
	"github.com/ieee0824/stt-decoder-go/language"
	"github.com/ieee0824/stt-decoder-go/tokenizer"
)

var (
	ErrAlreadyLoaded = errors.New("decoder: already loaded")
	ErrNotLoaded     = errors.New("decoder: not loaded")
	ErrStatus        = errors.New("decoder: operation not valid in current status")
	ErrFrameSize     = errors.New("decoder: frame size does not match vocabulary")
	ErrTooManyLMs    = errors.New("decoder: too many language models")
	// ErrNoResult is returned by PushEos when no hypothesis reached the
	// final state. The decoder is still Done and may be Reset.
	ErrNoResult = errors.New("decoder: no hypothesis reached the final state")
)

// Status is the lifecycle stage of a Decoder.
type Status int

const (
	StatusUnconstructed Status = iota
	StatusIdle
	StatusBusy
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusUnconstructed:
		return "unconstructed"
	case StatusIdle:
		return "idle"
	case StatusBusy:
		return "busy"
	case StatusDone:
		return "done"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

var negInf = float32(math.Inf(-1))

// Decoder runs one utterance at a time. It is not safe for concurrent use;
// run one Decoder per goroutine. The graph, tokenizer and models passed to
// Load are only read, except for models that intern states.
type Decoder struct {
	cfg    Config
	graph  *fsm.Graph
	tok    *tokenizer.Tokenizer
	lms    []language.Model
	logger *slog.Logger

	status     Status
	sessionKey string
	numFrames  int

	tokens   arena.Slab[token]
	lattice  [][]tokenSet
	frontier []tokenSet
	index    map[fsm.StateID]int32
	worklist []int32
	ranked   []int32

	scoreMax    float32
	cutoff      float32
	offsets     []float32
	totalOffset float64

	nbest []Hypothesis
}

// New returns an unloaded decoder. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

func (d *Decoder) log() *slog.Logger {
	if d.logger == nil {
		return slog.Default()
	}
	return d.logger
}

// Load installs the search configuration, graph, vocabulary and language
// models. It may be called once. Without models, a ContextHash keeps
// hypotheses with different outputs apart.
func (d *Decoder) Load(cfg Config, g *fsm.Graph, tok *tokenizer.Tokenizer, lms ...language.Model) error {
	if d.status != StatusUnconstructed {
		return ErrAlreadyLoaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load decoder: %w", err)
	}
	if g == nil || g.Empty() {
		return fmt.Errorf("load decoder: %w", fsm.ErrEmpty)
	}
	if len(lms) > MaxLM {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLMs, len(lms), MaxLM)
	}
	size := fsm.Label(tok.Size())
	for _, arc := range g.Arcs {
		if arc.ILabel != fsm.Epsilon && arc.ILabel != fsm.InputEnd && (arc.ILabel < 0 || arc.ILabel >= size) {
			return fmt.Errorf("%w: arc %d->%d has input label %d outside vocabulary of %d",
				fsm.ErrFormat, arc.Src, arc.Dst, arc.ILabel, size)
		}
		if arc.OLabel != fsm.Epsilon && (arc.OLabel < 0 || arc.OLabel >= size) {
			return fmt.Errorf("%w: arc %d->%d has output label %d outside vocabulary of %d",
				fsm.ErrFormat, arc.Src, arc.Dst, arc.OLabel, size)
		}
	}
	if len(lms) == 0 {
		lms = []language.Model{language.ContextHash{}}
	}

	d.cfg = cfg
	d.graph = g
	d.tok = tok
	d.lms = lms
	d.tokens.SetSlabSize(cfg.TokenSlabSize)
	d.index = make(map[fsm.StateID]int32)
	d.status = StatusIdle

	d.log().Debug("decoder loaded",
		"states", g.NumStates,
		"arcs", g.NumArcs,
		"vocab", tok.Size(),
		"lms", len(lms),
	)
	return nil
}

// Push advances the search by one frame of per-token scores.
// The first Push after Load or Reset starts a new session.
func (d *Decoder) Push(frame []float32) error {
	switch d.status {
	case StatusUnconstructed:
		return ErrNotLoaded
	case StatusDone:
		return fmt.Errorf("%w: push in status %s", ErrStatus, d.status)
	}
	if len(frame) != d.tok.Size() {
		return fmt.Errorf("%w: got %d scores, want %d", ErrFrameSize, len(frame), d.tok.Size())
	}
	if d.status == StatusIdle {
		d.startSession()
	}

	d.expand(frame)
	d.epsilonClosure()
	d.prune()
	d.pinDown()
	d.numFrames++
	return nil
}

// PushEos ends the utterance: hypotheses take the input-end arcs into the
// final state and are traced back into the N-best list. It returns
// ErrNoResult when none of them arrive.
func (d *Decoder) PushEos() error {
	switch d.status {
	case StatusUnconstructed:
		return ErrNotLoaded
	case StatusDone:
		return fmt.Errorf("%w: end of input in status %s", ErrStatus, d.status)
	case StatusIdle:
		d.startSession()
	}

	d.beginFrame()
	last := d.lattice[len(d.lattice)-1]
	for i := range last {
		set := &last[i]
		arcs := d.graph.OutArcs(set.state)
		for ai := range arcs {
			arc := &arcs[ai]
			if arc.ILabel != fsm.InputEnd || arc.Dst != d.graph.Final {
				continue
			}
			if set.best+arc.Score < d.cutoff {
				continue
			}
			dst := d.findOrCreate(arc.Dst)
			for h := set.head; h != arena.Nil; h = d.tokens.Get(h).next {
				d.passToken(h, arc, 0, dst)
			}
		}
	}
	d.prune()
	d.pinDown()
	d.status = StatusDone

	d.nbest = d.traceback()
	d.log().Debug("session finished",
		"session", d.sessionKey,
		"frames", d.numFrames,
		"hypotheses", len(d.nbest),
		"tokens", d.tokens.NumUsed(),
		"slabs", d.tokens.NumSlabs(),
	)
	if len(d.nbest) == 0 {
		return ErrNoResult
	}
	return nil
}

// Reset drops the finished session and returns to Idle.
func (d *Decoder) Reset() error {
	if d.status != StatusDone {
		return fmt.Errorf("%w: reset in status %s", ErrStatus, d.status)
	}
	clear(d.lattice)
	d.lattice = d.lattice[:0]
	d.frontier = d.frontier[:0]
	clear(d.index)
	d.worklist = d.worklist[:0]
	d.offsets = d.offsets[:0]
	d.totalOffset = 0
	d.tokens.Reset()
	d.nbest = nil
	d.numFrames = 0
	d.sessionKey = ""
	d.status = StatusIdle
	return nil
}

// NBest returns the hypotheses of the last finished session, best first.
func (d *Decoder) NBest() []Hypothesis { return d.nbest }

// Status returns the lifecycle stage.
func (d *Decoder) Status() Status { return d.status }

// NumFrames returns the number of frames pushed in the current session.
func (d *Decoder) NumFrames() int { return d.numFrames }

// SessionKey identifies the current session; it is empty between sessions.
func (d *Decoder) SessionKey() string { return d.sessionKey }

// NumTokens returns the number of live tokens in the arena.
func (d *Decoder) NumTokens() int { return d.tokens.NumUsed() }

// NumActive returns the number of token sets pinned at the latest time.
func (d *Decoder) NumActive() int {
	if len(d.lattice) == 0 {
		return 0
	}
	return len(d.lattice[len(d.lattice)-1])
}

func (d *Decoder) startSession() {
	d.sessionKey = uuid.NewString()
	d.beginFrame()

	h := d.tokens.Alloc()
	t := d.tokens.Get(h)
	t.prev = arena.Nil
	t.next = arena.Nil
	t.olabel = fsm.Epsilon
	t.linked = true
	t.owner = -1
	for i, lm := range d.lms {
		s := lm.NullState()
		if _, next, ok := lm.GetScore(s, d.tok.Bos); ok {
			s = next
		}
		t.ctx[i] = s
	}

	i := d.findOrCreate(d.graph.Start)
	set := &d.frontier[i]
	set.head = h
	set.size = 1
	set.best = 0
	d.scoreMax = 0
	d.cutoff = -d.cfg.Beam

	d.epsilonClosure()
	d.prune()
	d.pinDown()
	d.status = StatusBusy

	d.log().Debug("session started", "session", d.sessionKey, "active", d.NumActive())
}

func (d *Decoder) beginFrame() {
	d.scoreMax = negInf
	d.cutoff = negInf
	d.frontier = d.frontier[:0]
	clear(d.index)
}

func (d *Decoder) findOrCreate(state fsm.StateID) int32 {
	if i, ok := d.index[state]; ok {
		return i
	}
	i := int32(len(d.frontier))
	d.frontier = append(d.frontier, tokenSet{state: state, best: negInf, head: arena.Nil})
	d.index[state] = i
	return i
}

// expand passes every pinned token of the previous time slice along the
// emitting arcs of its state.
func (d *Decoder) expand(frame []float32) {
	d.beginFrame()
	last := d.lattice[len(d.lattice)-1]
	for i := range last {
		set := &last[i]
		arcs := d.graph.OutArcs(set.state)
		for ai := range arcs {
			arc := &arcs[ai]
			if arc.ILabel == fsm.Epsilon || arc.ILabel == fsm.InputEnd {
				continue
			}
			frameScore := frame[arc.ILabel]
			if set.best+arc.Score+frameScore < d.cutoff {
				continue
			}
			dst := d.findOrCreate(arc.Dst)
			for h := set.head; h != arena.Nil; h = d.tokens.Get(h).next {
				d.passToken(h, arc, frameScore, dst)
			}
		}
	}
}

func (d *Decoder) enqueue(i int32) {
	set := &d.frontier[i]
	if set.queued || set.size == 0 || !d.graph.HasEpsilonArcs(set.state) {
		return
	}
	set.queued = true
	d.worklist = append(d.worklist, i)
}

// epsilonClosure follows epsilon arcs from the frontier until no token set
// changes or MaxEpsilonIterations token sets were expanded. Epsilon
// self-loops are ignored.
func (d *Decoder) epsilonClosure() {
	d.worklist = d.worklist[:0]
	for i := range d.frontier {
		d.enqueue(int32(i))
	}

	limit := d.cfg.MaxEpsilonIterations
	for head := 0; head < len(d.worklist); head++ {
		if limit > 0 && head >= limit {
			for _, i := range d.worklist[head:] {
				d.frontier[i].queued = false
			}
			d.log().Warn("epsilon closure hit iteration bound",
				"session", d.sessionKey,
				"limit", limit,
				"pending", len(d.worklist)-head,
			)
			break
		}

		src := d.worklist[head]
		d.frontier[src].queued = false
		state := d.frontier[src].state
		arcs := d.graph.OutArcs(state)
		for ai := 0; ai < len(arcs) && arcs[ai].ILabel == fsm.Epsilon; ai++ {
			arc := &arcs[ai]
			if arc.Dst == state || d.frontier[src].best+arc.Score < d.cutoff {
				continue
			}
			dst := d.findOrCreate(arc.Dst)
			changed := false
			for h := d.frontier[src].head; h != arena.Nil; h = d.tokens.Get(h).next {
				if d.passToken(h, arc, 0, dst) {
					changed = true
				}
			}
			if changed {
				d.enqueue(dst)
			}
		}
	}
}

// passToken offers the extension of src along arc to the frontier token set
// dst and reports whether dst changed.
func (d *Decoder) passToken(src arena.Handle, arc *fsm.Arc, frameScore float32, dst int32) bool {
	s := d.tokens.Get(src)
	score := s.score + arc.Score + frameScore
	ctx := s.ctx
	var lmScores [MaxLM]float32
	if arc.OLabel != fsm.Epsilon {
		for i, lm := range d.lms {
			lmScore, next, ok := lm.GetScore(ctx[i], arc.OLabel)
			if !ok {
				panic(fmt.Sprintf("decoder: language model %d has no score for label %d in state %d", i, arc.OLabel, ctx[i]))
			}
			score += lmScore
			lmScores[i] = lmScore
			ctx[i] = next
		}
		score -= d.cfg.InsertionPenalty
	}

	if score < d.cutoff {
		return false
	}
	if score > d.scoreMax {
		d.scoreMax = score
		d.cutoff = score - d.cfg.Beam
	}

	set := &d.frontier[dst]
	prev := arena.Nil
	for h := set.head; h != arena.Nil; {
		t := d.tokens.Get(h)
		if t.ctx == ctx {
			if t.score >= score {
				return false
			}
			d.unlink(set, prev, h)
			break
		}
		prev = h
		h = t.next
	}
	if int(set.size) >= d.cfg.TokenSetSize {
		return false
	}

	h := d.tokens.Alloc()
	t := d.tokens.Get(h)
	*t = token{
		score:    score,
		ctx:      ctx,
		prev:     src,
		olabel:   arc.OLabel,
		acScore:  frameScore,
		lmScores: lmScores,
		next:     arena.Nil,
		linked:   true,
		time:     int32(len(d.lattice)),
		owner:    -1,
	}
	s.refs++

	prev = arena.Nil
	for cur := set.head; cur != arena.Nil; {
		c := d.tokens.Get(cur)
		if c.score < score {
			break
		}
		prev = cur
		cur = c.next
	}
	if prev == arena.Nil {
		t.next = set.head
		set.head = h
	} else {
		p := d.tokens.Get(prev)
		t.next = p.next
		p.next = h
	}
	set.size++
	set.best = d.tokens.Get(set.head).score
	return true
}

// unlink removes h, which follows prev, from set and releases it.
func (d *Decoder) unlink(set *tokenSet, prev, h arena.Handle) {
	t := d.tokens.Get(h)
	if prev == arena.Nil {
		set.head = t.next
	} else {
		d.tokens.Get(prev).next = t.next
	}
	t.next = arena.Nil
	t.linked = false
	set.size--
	if set.head == arena.Nil {
		set.best = negInf
	} else {
		set.best = d.tokens.Get(set.head).score
	}
	d.release(h)
}

// release frees h once nothing holds it, then walks up its back-pointers.
func (d *Decoder) release(h arena.Handle) {
	for h != arena.Nil {
		t := d.tokens.Get(h)
		if t.linked || t.pinned || t.refs > 0 {
			return
		}
		prev := t.prev
		d.tokens.Free(h)
		if prev == arena.Nil {
			return
		}
		d.tokens.Get(prev).refs--
		h = prev
	}
}

// truncate unlinks every token of set from the first one below score on.
func (d *Decoder) truncate(set *tokenSet, score float32) {
	prev := arena.Nil
	h := set.head
	for h != arena.Nil && d.tokens.Get(h).score >= score {
		prev = h
		h = d.tokens.Get(h).next
	}
	if prev == arena.Nil {
		set.head = arena.Nil
		set.best = negInf
	} else {
		d.tokens.Get(prev).next = arena.Nil
	}
	for h != arena.Nil {
		t := d.tokens.Get(h)
		next := t.next
		t.next = arena.Nil
		t.linked = false
		set.size--
		d.release(h)
		h = next
	}
}

func (d *Decoder) rankBefore(a, b int32) bool {
	sa, sb := &d.frontier[a], &d.frontier[b]
	if sa.best != sb.best {
		return sa.best > sb.best
	}
	return sa.state < sb.state
}

// prune drops token sets outside the beam, keeping at least MinActive and
// at most MaxActive of them, then trims the tokens below the cutoff.
func (d *Decoder) prune() {
	d.ranked = d.ranked[:0]
	inBeam := 0
	for i := range d.frontier {
		set := &d.frontier[i]
		if set.size == 0 {
			continue
		}
		d.ranked = append(d.ranked, int32(i))
		if set.best >= d.cutoff {
			inBeam++
		}
	}

	kept := d.ranked
	if inBeam < d.cfg.MinActive && inBeam < len(d.ranked) {
		k := min(d.cfg.MinActive, len(d.ranked))
		mathutil.SelectTopK(kept, k, d.rankBefore)
		kept = kept[:k]
		d.cutoff = min(d.cutoff, d.frontier[kept[k-1]].best)
	} else {
		kept = slices.DeleteFunc(kept, func(i int32) bool {
			return d.frontier[i].best < d.cutoff
		})
	}
	if m := d.cfg.MaxActive; m > 0 && len(kept) > m {
		mathutil.SelectTopK(kept, m, d.rankBefore)
		kept = kept[:m]
		d.cutoff = max(d.cutoff, d.frontier[kept[m-1]].best)
	}
	slices.Sort(kept)

	n := 0
	for i := range d.frontier {
		set := &d.frontier[i]
		if n < len(kept) && kept[n] == int32(i) {
			d.truncate(set, d.cutoff)
			d.frontier[n] = *set
			n++
			continue
		}
		d.truncate(set, float32(math.Inf(1)))
	}
	d.frontier = d.frontier[:n]
	clear(d.index)
}

// pinDown appends the frontier to the lattice as the newest time slice.
func (d *Decoder) pinDown() {
	var offset float32
	if d.cfg.UseScoreOffset && len(d.frontier) > 0 {
		offset = d.frontier[0].best
		for i := range d.frontier[1:] {
			offset = max(offset, d.frontier[i+1].best)
		}
	}

	slice := make([]tokenSet, len(d.frontier))
	copy(slice, d.frontier)
	for i := range slice {
		set := &slice[i]
		set.best -= offset
		set.queued = false
		for h := set.head; h != arena.Nil; {
			t := d.tokens.Get(h)
			t.score -= offset
			t.pinned = true
			t.owner = int32(i)
			h = t.next
		}
	}

	d.lattice = append(d.lattice, slice)
	d.offsets = append(d.offsets, offset)
	d.totalOffset += float64(offset)
	d.frontier = d.frontier[:0]
	clear(d.index)
}
