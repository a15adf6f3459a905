// Package textstream turns bursts of partial transcription chunks into
// stabilized display text. Producers stream hypotheses as they transcribe;
// the buffer keeps chunks in arrival order, flags chunks that revise their
// predecessor rather than extend it, coalesces rapid updates behind a
// debounce, and emits a text update only when the combined text actually
// changed.
package textstream

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/govorun-ai/govorun/internal/timeutil"
)

// correctionPrefixRatio is the shared-prefix fraction below which a new
// chunk is treated as a revision of its predecessor instead of an append.
const correctionPrefixRatio = 0.8

// Chunk is one transcription fragment in arrival order.
type Chunk struct {
	ID        int64
	Text      string
	IsPartial bool
	Metadata  map[string]string
	AddedAt   time.Time

	// IsCorrection marks a chunk that revised the previous hypothesis;
	// Similarity is the Jaro-Winkler score against the text it revised.
	IsCorrection bool
	Similarity   float64
}

// Update is the payload of a text update emission.
type Update struct {
	Text      string
	IsPartial bool
	Metadata  map[string]string
}

// Config tunes the buffer. Zero values are replaced with defaults.
type Config struct {
	// MaxChunks bounds the chunk list; oldest dropped first. Default: 200.
	MaxChunks int

	// DebounceDelay coalesces rapid chunk bursts into one auto-flush.
	// Default: 50ms.
	DebounceDelay time.Duration

	// MaxChunkAge is how long a chunk contributes to combined text before
	// the background sweep evicts it. Default: 30s.
	MaxChunkAge time.Duration

	// SweepInterval is the eviction sweep cadence. Default: 5s.
	SweepInterval time.Duration

	// DisableAutoFlush turns off the debounced flush; the owner must call
	// Flush explicitly.
	DisableAutoFlush bool

	// DisableCorrectionDetection skips the revision check on new chunks.
	DisableCorrectionDetection bool
}

func (c *Config) applyDefaults() {
	if c.MaxChunks <= 0 {
		c.MaxChunks = 200
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = 50 * time.Millisecond
	}
	if c.MaxChunkAge <= 0 {
		c.MaxChunkAge = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
}

// Events holds the buffer's listeners. Nil fields are skipped; callbacks
// run outside the buffer lock.
type Events struct {
	OnTextUpdate   func(u Update)
	OnChunkAdded   func(c Chunk)
	OnChunkRemoved func(c Chunk)
	OnCorrection   func(previous, revision Chunk)
	OnCleared      func()
}

// Buffer accumulates transcription chunks and emits stabilized combined
// text. All methods are safe for concurrent use.
type Buffer struct {
	cfg      Config
	events   Events
	debounce *timeutil.Debouncer

	mu        sync.Mutex
	chunks    []Chunk
	nextID    int64
	lastFlush string
	flushed   bool

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a buffer and starts its background age sweep.
func New(cfg Config, events Events) *Buffer {
	cfg.applyDefaults()
	b := &Buffer{
		cfg:       cfg,
		events:    events,
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	b.debounce = timeutil.NewDebouncer(cfg.DebounceDelay)
	go b.sweepLoop()
	return b
}

// Close stops the sweep and the debounce timer. Pending unflushed text is
// discarded with the buffer.
func (b *Buffer) Close() {
	b.mu.Lock()
	select {
	case <-b.sweepStop:
		b.mu.Unlock()
		return
	default:
		close(b.sweepStop)
	}
	b.mu.Unlock()
	b.debounce.Close()
	<-b.sweepDone
}

// AddChunk appends a transcription fragment and returns its chunk id. A
// chunk whose shared prefix with the previous chunk falls under the
// correction threshold is flagged as a revision of that hypothesis. The
// debounced auto-flush is rearmed on every call.
func (b *Buffer) AddChunk(text string, isPartial bool, metadata map[string]string) int64 {
	b.mu.Lock()
	b.nextID++
	c := Chunk{
		ID:        b.nextID,
		Text:      text,
		IsPartial: isPartial,
		Metadata:  metadata,
		AddedAt:   time.Now(),
	}

	var prev Chunk
	if !b.cfg.DisableCorrectionDetection && len(b.chunks) > 0 {
		prev = b.chunks[len(b.chunks)-1]
		if isCorrectionOf(prev.Text, text) {
			c.IsCorrection = true
			c.Similarity = matchr.JaroWinkler(prev.Text, text, false)
		}
	}

	b.chunks = append(b.chunks, c)
	var dropped []Chunk
	if over := len(b.chunks) - b.cfg.MaxChunks; over > 0 {
		dropped = append(dropped, b.chunks[:over]...)
		b.chunks = b.chunks[over:]
	}
	ev := b.events
	b.mu.Unlock()

	if ev.OnChunkAdded != nil {
		ev.OnChunkAdded(c)
	}
	if c.IsCorrection {
		slog.Debug("transcription revised",
			"similarity", c.Similarity,
			"was", prev.Text,
			"now", text,
		)
		if ev.OnCorrection != nil {
			ev.OnCorrection(prev, c)
		}
	}
	if ev.OnChunkRemoved != nil {
		for _, d := range dropped {
			ev.OnChunkRemoved(d)
		}
	}
	if !b.cfg.DisableAutoFlush {
		b.debounce.Trigger(b.Flush)
	}
	return c.ID
}

// isCorrectionOf reports whether next revises prev: the shared prefix
// divided by the shorter length falls under the threshold, meaning the
// producer re-sent a different hypothesis rather than a continuation.
func isCorrectionOf(prev, next string) bool {
	p, n := []rune(prev), []rune(next)
	shorter := len(p)
	if len(n) < shorter {
		shorter = len(n)
	}
	if shorter == 0 {
		return false
	}
	shared := 0
	for shared < shorter && p[shared] == n[shared] {
		shared++
	}
	return float64(shared)/float64(shorter) < correctionPrefixRatio
}

// Flush cancels any pending debounce and emits the combined text if it
// changed since the last emission. Calling Flush with unchanged text is a
// no-op.
func (b *Buffer) Flush() {
	b.debounce.Cancel()

	b.mu.Lock()
	text := b.combinedLocked()
	if b.flushed && text == b.lastFlush {
		b.mu.Unlock()
		return
	}
	b.lastFlush = text
	b.flushed = true
	u := Update{Text: text}
	if n := len(b.chunks); n > 0 {
		last := b.chunks[n-1]
		u.IsPartial = last.IsPartial
		u.Metadata = last.Metadata
	}
	onUpdate := b.events.OnTextUpdate
	b.mu.Unlock()

	if onUpdate != nil {
		onUpdate(u)
	}
}

// Combined returns the current in-order concatenation of chunk text.
func (b *Buffer) Combined() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.combinedLocked()
}

// Len returns the number of buffered chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Reset discards all chunks and the flush history.
func (b *Buffer) Reset() {
	b.debounce.Cancel()
	b.mu.Lock()
	b.chunks = nil
	b.lastFlush = ""
	b.flushed = false
	onCleared := b.events.OnCleared
	b.mu.Unlock()

	if onCleared != nil {
		onCleared()
	}
}

// Sweep evicts chunks older than MaxChunkAge and, if any were evicted,
// forces a flush so consumers never silently observe stale combined text.
func (b *Buffer) Sweep() {
	now := time.Now()

	b.mu.Lock()
	kept := b.chunks[:0]
	var evicted []Chunk
	for _, c := range b.chunks {
		if now.Sub(c.AddedAt) > b.cfg.MaxChunkAge {
			evicted = append(evicted, c)
			continue
		}
		kept = append(kept, c)
	}
	b.chunks = kept
	onRemoved := b.events.OnChunkRemoved
	b.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	slog.Debug("stale transcription chunks evicted", "count", len(evicted))
	if onRemoved != nil {
		for _, c := range evicted {
			onRemoved(c)
		}
	}
	b.Flush()
}

func (b *Buffer) sweepLoop() {
	defer close(b.sweepDone)
	t := time.NewTicker(b.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.Sweep()
		case <-b.sweepStop:
			return
		}
	}
}

func (b *Buffer) combinedLocked() string {
	var sb strings.Builder
	for _, c := range b.chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}
