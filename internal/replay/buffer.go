// Package replay keeps unprocessed and failed audio segments in a bounded,
// priority-ordered store and re-submits them to a pluggable transcription
// handler. The buffer is the durability layer of the pipeline: segments that
// could not be transcribed on first attempt survive here until replayed or
// evicted by the count/memory/age policy.
package replay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/govorun-ai/govorun/pkg/audio"
)

// Priority orders buffered segments for replay. Higher values replay first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// BufferedSegment wraps an audio segment with its replay bookkeeping.
type BufferedSegment struct {
	Segment    *audio.Segment
	Priority   Priority
	Processed  bool
	RetryCount int

	// Sequence is the arrival order, used for FIFO replay and tie-breaking
	// within a priority class.
	Sequence   int64
	BufferedAt time.Time
}

// BufferConfig tunes capacity and the priority auto-assignment thresholds.
// Zero values are replaced with defaults.
type BufferConfig struct {
	// MaxSegments caps the stored segment count; oldest evicted first.
	// Default: 100.
	MaxSegments int

	// MaxMemory caps the summed payload size in bytes. Default: 50 MiB.
	MaxMemory int64

	// MaxAge is how long a segment may sit in the buffer before the sweep
	// discards it. Default: 5m.
	MaxAge time.Duration

	// SweepInterval is the cadence of the background eviction sweep.
	// Default: 30s.
	SweepInterval time.Duration

	// BacklogWarnAge triggers a backlog warning when the oldest pending
	// segment exceeds this age. Default: 1m.
	BacklogWarnAge time.Duration

	// CriticalMaxDuration splits voiced segments between Critical (shorter)
	// and High (longer). Default: 2s.
	CriticalMaxDuration time.Duration

	// NormalMinDuration is the minimum duration for an unvoiced segment to
	// rank Normal instead of Low. Default: 1.5s.
	NormalMinDuration time.Duration
}

func (c *BufferConfig) applyDefaults() {
	if c.MaxSegments <= 0 {
		c.MaxSegments = 100
	}
	if c.MaxMemory <= 0 {
		c.MaxMemory = 50 << 20
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.BacklogWarnAge <= 0 {
		c.BacklogWarnAge = time.Minute
	}
	if c.CriticalMaxDuration <= 0 {
		c.CriticalMaxDuration = 2 * time.Second
	}
	if c.NormalMinDuration <= 0 {
		c.NormalMinDuration = 1500 * time.Millisecond
	}
}

// BufferStats is a point-in-time snapshot of the store.
type BufferStats struct {
	Segments       int
	MemoryBytes    int64
	Processed      int
	FailedSegments int
	Evictions      int64
	OldestPending  time.Duration
}

// BufferEvents holds the buffer's listeners. Nil fields are skipped; all
// callbacks run outside the buffer lock.
type BufferEvents struct {
	OnSegmentBuffered func(seg *BufferedSegment)
	OnBacklogWarning  func(oldest time.Duration, pending int)
}

// Buffer is the bounded segment store. All methods are safe for concurrent
// use; it is the only mutator of its contents.
type Buffer struct {
	cfg    BufferConfig
	events BufferEvents

	mu        sync.Mutex
	segments  []*BufferedSegment // arrival order
	byID      map[string]*BufferedSegment
	memory    int64
	nextSeq   int64
	evictions int64

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewBuffer creates a store and starts its background eviction sweep.
func NewBuffer(cfg BufferConfig, events BufferEvents) *Buffer {
	cfg.applyDefaults()
	b := &Buffer{
		cfg:       cfg,
		events:    events,
		byID:      make(map[string]*BufferedSegment),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

// Close stops the background sweep. Buffered segments stay readable.
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
	<-b.sweepDone
}

// Add stores a segment with its priority derived from voice presence and
// duration. Eviction policy runs on every insert.
func (b *Buffer) Add(seg *audio.Segment) *BufferedSegment {
	return b.AddWithPriority(seg, b.classify(seg))
}

// AddWithPriority stores a segment under an explicit priority, overriding
// the automatic classification.
func (b *Buffer) AddWithPriority(seg *audio.Segment, p Priority) *BufferedSegment {
	b.mu.Lock()
	b.nextSeq++
	bs := &BufferedSegment{
		Segment:    seg,
		Priority:   p,
		Sequence:   b.nextSeq,
		BufferedAt: time.Now(),
	}
	b.segments = append(b.segments, bs)
	b.byID[seg.ID] = bs
	b.memory += seg.MemorySize()
	b.evictForCapacityLocked()
	onBuffered := b.events.OnSegmentBuffered
	b.mu.Unlock()

	slog.Debug("segment buffered", "id", seg.ID, "priority", p, "duration", seg.Duration)
	if onBuffered != nil {
		onBuffered(bs)
	}
	return bs
}

// classify maps (hasVoice, duration) to a priority. Short voiced segments
// rank highest: they are most likely a complete utterance the user is
// waiting on.
func (b *Buffer) classify(seg *audio.Segment) Priority {
	switch {
	case seg.HasVoice() && seg.Duration < b.cfg.CriticalMaxDuration:
		return PriorityCritical
	case seg.HasVoice():
		return PriorityHigh
	case seg.Duration >= b.cfg.NormalMinDuration:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Get returns the buffered segment with the given id.
func (b *Buffer) Get(id string) (*BufferedSegment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bs, ok := b.byID[id]
	return bs, ok
}

// Pending returns unprocessed segments in arrival order.
func (b *Buffer) Pending() []*BufferedSegment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*BufferedSegment, 0, len(b.segments))
	for _, bs := range b.segments {
		if !bs.Processed {
			out = append(out, bs)
		}
	}
	return out
}

// MarkProcessed flags a segment as successfully replayed; the next sweep
// removes it.
func (b *Buffer) MarkProcessed(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bs, ok := b.byID[id]; ok {
		bs.Processed = true
	}
}

// RecordFailure increments the retry counter of a failed segment and
// returns the new count. The segment stays buffered.
func (b *Buffer) RecordFailure(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bs, ok := b.byID[id]
	if !ok {
		return 0
	}
	bs.RetryCount++
	return bs.RetryCount
}

// Stats returns a snapshot of the store.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BufferStats{
		Segments:    len(b.segments),
		MemoryBytes: b.memory,
		Evictions:   b.evictions,
	}
	now := time.Now()
	for _, bs := range b.segments {
		if bs.Processed {
			st.Processed++
			continue
		}
		if bs.RetryCount > 0 {
			st.FailedSegments++
		}
		if age := now.Sub(bs.BufferedAt); age > st.OldestPending {
			st.OldestPending = age
		}
	}
	return st
}

// Sweep removes processed segments and segments older than MaxAge, then
// checks the backlog warning threshold. Runs periodically in the background;
// exposed for deterministic tests.
func (b *Buffer) Sweep() {
	now := time.Now()

	b.mu.Lock()
	kept := b.segments[:0]
	for _, bs := range b.segments {
		age := now.Sub(bs.BufferedAt)
		if bs.Processed || age > b.cfg.MaxAge {
			b.removeLocked(bs)
			if !bs.Processed {
				b.evictions++
				slog.Warn("segment expired unprocessed", "id", bs.Segment.ID, "age", age, "retries", bs.RetryCount)
			}
			continue
		}
		kept = append(kept, bs)
	}
	b.segments = kept

	var oldest time.Duration
	pending := 0
	for _, bs := range b.segments {
		pending++
		if age := now.Sub(bs.BufferedAt); age > oldest {
			oldest = age
		}
	}
	warn := b.events.OnBacklogWarning
	b.mu.Unlock()

	if oldest > b.cfg.BacklogWarnAge && warn != nil {
		warn(oldest, pending)
	}
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

// evictForCapacityLocked enforces the count and memory caps, dropping the
// oldest segments first.
func (b *Buffer) evictForCapacityLocked() {
	for len(b.segments) > b.cfg.MaxSegments || b.memory > b.cfg.MaxMemory {
		if len(b.segments) == 0 {
			return
		}
		oldest := b.segments[0]
		b.segments = b.segments[1:]
		b.removeLocked(oldest)
		b.evictions++
		slog.Debug("segment evicted for capacity", "id", oldest.Segment.ID, "priority", oldest.Priority)
	}
}

func (b *Buffer) removeLocked(bs *BufferedSegment) {
	delete(b.byID, bs.Segment.ID)
	b.memory -= bs.Segment.MemorySize()
}
