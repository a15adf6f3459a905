package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/govorun-ai/govorun/pkg/audio"
)

// Mode selects the replay ordering.
type Mode string

const (
	// ModeSequential replays in arrival (FIFO) order.
	ModeSequential Mode = "sequential"

	// ModePriority replays Critical first, Low last, ties by arrival order.
	ModePriority Mode = "priority"
)

func (m Mode) IsValid() bool {
	return m == ModeSequential || m == ModePriority
}

// Handler transcribes one segment. Supplied by the transcription
// collaborator; any error counts as a failed attempt.
type Handler func(ctx context.Context, seg *audio.Segment) (string, error)

// Summary reports the outcome of one replay sweep.
type Summary struct {
	Attempted int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// EngineConfig tunes replay concurrency and ordering. Zero values are
// replaced with defaults.
type EngineConfig struct {
	// Mode orders the sweep. Default: ModePriority.
	Mode Mode

	// Concurrency bounds simultaneous handler invocations. Default: 2.
	Concurrency int

	// Timeout bounds each handler call. Default: 10s.
	Timeout time.Duration
}

func (c *EngineConfig) applyDefaults() error {
	if c.Mode == "" {
		c.Mode = ModePriority
	}
	if !c.Mode.IsValid() {
		return fmt.Errorf("replay: unknown mode %q", c.Mode)
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// EngineEvents holds the engine's listeners. Nil fields are skipped.
type EngineEvents struct {
	OnSegmentReplayed func(seg *BufferedSegment, text string)
	OnSegmentFailed   func(seg *BufferedSegment, err error)
	OnReplayCompleted func(s Summary)
}

// Engine drains a [Buffer] through a transcription handler. Handler calls
// are the pipeline's one genuinely concurrent, blocking operation; the
// engine bounds them with the configured concurrency and per-call timeout.
type Engine struct {
	cfg    EngineConfig
	buf    *Buffer
	events EngineEvents

	mu       sync.Mutex
	inflight *replayRun
}

type replayRun struct {
	done    chan struct{}
	summary Summary
}

// NewEngine creates a replay engine over the given buffer.
func NewEngine(cfg EngineConfig, buf *Buffer, events EngineEvents) (*Engine, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, buf: buf, events: events}, nil
}

// StartReplay drains all pending segments through handler and returns a
// summary. A call arriving while a sweep is already running does not start
// a second sweep; it waits for the running one and returns its summary.
func (e *Engine) StartReplay(ctx context.Context, handler Handler) (Summary, error) {
	if handler == nil {
		return Summary{}, fmt.Errorf("replay: nil handler")
	}

	e.mu.Lock()
	if run := e.inflight; run != nil {
		e.mu.Unlock()
		select {
		case <-run.done:
			return run.summary, nil
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}
	run := &replayRun{done: make(chan struct{})}
	e.inflight = run
	e.mu.Unlock()

	summary := e.sweep(ctx, handler)

	e.mu.Lock()
	run.summary = summary
	e.inflight = nil
	close(run.done)
	e.mu.Unlock()

	if e.events.OnReplayCompleted != nil {
		e.events.OnReplayCompleted(summary)
	}
	return summary, nil
}

// ReplaySegment re-submits a single buffered segment outside a full sweep.
func (e *Engine) ReplaySegment(ctx context.Context, id string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("replay: nil handler")
	}
	bs, ok := e.buf.Get(id)
	if !ok {
		return fmt.Errorf("replay: segment %q not buffered", id)
	}
	return e.attempt(ctx, bs, handler)
}

func (e *Engine) sweep(ctx context.Context, handler Handler) Summary {
	start := time.Now()
	pending := e.buf.Pending()
	e.order(pending)

	var (
		mu      sync.Mutex
		summary Summary
	)
	summary.Attempted = len(pending)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, bs := range pending {
		g.Go(func() error {
			err := e.attempt(gctx, bs, handler)
			mu.Lock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Succeeded++
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary.Elapsed = time.Since(start)
	slog.Info("replay sweep finished",
		"attempted", summary.Attempted,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"elapsed", summary.Elapsed,
	)
	return summary
}

// attempt runs one handler call under the per-segment timeout. Failures
// increment the segment's retry counter and fire the failure event; the
// segment stays buffered for the caller to decide on.
func (e *Engine) attempt(ctx context.Context, bs *BufferedSegment, handler Handler) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	text, err := handler(callCtx, bs.Segment)
	if err == nil && callCtx.Err() != nil {
		// The handler returned after its deadline; the result is discarded.
		err = callCtx.Err()
	}
	if err != nil {
		retries := e.buf.RecordFailure(bs.Segment.ID)
		slog.Warn("segment replay failed", "id", bs.Segment.ID, "retries", retries, "err", err)
		if e.events.OnSegmentFailed != nil {
			e.events.OnSegmentFailed(bs, err)
		}
		return err
	}

	e.buf.MarkProcessed(bs.Segment.ID)
	if e.events.OnSegmentReplayed != nil {
		e.events.OnSegmentReplayed(bs, text)
	}
	return nil
}

// order sorts the sweep's working set in place according to the configured
// mode. Pending() already yields arrival order, so sequential mode is a
// no-op and priority mode needs a stable sort only on priority.
func (e *Engine) order(segs []*BufferedSegment) {
	if e.cfg.Mode != ModePriority {
		return
	}
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Priority > segs[j].Priority
	})
}
