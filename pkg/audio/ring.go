package audio

import (
	"fmt"
	"log/slog"
)

// Ring is a fixed-capacity circular sample buffer addressed by modulo
// arithmetic. The segmenter appends incoming samples at the write cursor and
// extracts arbitrary sub-ranges relative to the read cursor without shifting
// or reallocating the backing array.
//
// When an append would exceed capacity the oldest unread samples are dropped
// and the read cursor advanced; the overflow is logged once per Write call.
//
// Ring is not safe for concurrent use. The segmenter owns it exclusively
// (see the pipeline's single-mutator rule).
type Ring struct {
	buf   []float32
	read  int64 // absolute sample index of the read cursor
	write int64 // absolute sample index of the write cursor
}

// NewRing creates a ring buffer holding at most capacity samples.
// Panics if capacity is not positive; the capacity comes from validated
// configuration, so a bad value is a programming error.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("audio: ring capacity must be positive, got %d", capacity))
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Cap returns the fixed capacity in samples.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of unread samples currently buffered.
func (r *Ring) Len() int { return int(r.write - r.read) }

// TotalWritten returns the absolute number of samples ever written. The
// segmenter derives stream-relative timestamps from this counter.
func (r *Ring) TotalWritten() int64 { return r.write }

// ReadOffset returns the absolute sample index of the read cursor.
func (r *Ring) ReadOffset() int64 { return r.read }

// Write appends samples, overwriting the oldest unread data if the buffer is
// full. Returns the number of samples that were dropped to make room.
func (r *Ring) Write(samples []float32) (dropped int) {
	n := len(samples)
	if n == 0 {
		return 0
	}

	// A write larger than the whole buffer keeps only the tail; the skipped
	// head and everything previously unread are dropped together.
	if n > len(r.buf) {
		skip := n - len(r.buf)
		dropped += skip + r.Len()
		samples = samples[skip:]
		r.write += int64(skip)
		r.read = r.write
		n = len(samples)
	}

	// Drop oldest unread samples to make room.
	if free := len(r.buf) - r.Len(); n > free {
		over := n - free
		r.read += int64(over)
		dropped += over
	}

	for _, s := range samples {
		r.buf[r.write%int64(len(r.buf))] = s
		r.write++
	}

	if dropped > 0 {
		slog.Warn("audio ring overflow, oldest samples dropped",
			"dropped", dropped,
			"capacity", len(r.buf),
		)
	}
	return dropped
}

// Range copies the unread sub-range [start, end) — sample offsets relative to
// the read cursor — into a fresh slice. Returns an error if the range falls
// outside the buffered region.
func (r *Ring) Range(start, end int) ([]float32, error) {
	if start < 0 || end < start || end > r.Len() {
		return nil, fmt.Errorf("audio: range [%d, %d) outside buffered region of %d samples", start, end, r.Len())
	}
	out := make([]float32, end-start)
	base := r.read + int64(start)
	for i := range out {
		out[i] = r.buf[(base+int64(i))%int64(len(r.buf))]
	}
	return out, nil
}

// Advance moves the read cursor forward by n samples, releasing them for
// overwrite. Advancing past the write cursor is clamped.
func (r *Ring) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > r.Len() {
		n = r.Len()
	}
	r.read += int64(n)
}

// Reset discards all buffered samples without touching the absolute counters,
// so stream-relative timestamps stay monotonic across an interruption.
func (r *Ring) Reset() {
	r.read = r.write
}
