// Package pipeline drives Beacon's encode-and-pace loop for a single stream:
// once per frame interval it consults the demand gate, produces and encodes
// the next frame, and hands the framed bytes to the transport sink, keeping
// a soft real-time cadence without drift or busy-waiting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zsiec/beacon/internal/encode"
	"github.com/zsiec/beacon/internal/media"
)

// maxSleepSlice bounds each suspension so the loop stays responsive to
// cancellation: shutdown latency is at most one slice, never a full frame
// interval.
const maxSleepSlice = 10 * time.Millisecond

// minSleep is the shortest suspension worth asking the OS for; below it the
// loop re-checks the deadline directly.
const minSleep = time.Millisecond

// Sink is the transport collaborator the pipeline feeds: a thread-safe,
// non-blocking (or bounded-latency) receiver of framed access units.
type Sink interface {
	ReceiverCounter
	// SubmitAccessUnit relays one start-code-delimited access unit and its
	// presentation-clock increment to all current receivers. Fire-and-forget.
	SubmitAccessUnit(data []byte, timestampIncrement uint32)
}

// SourceFunc produces the raw frame for a sequence index. Called once per
// tick while the gate is open, with strictly increasing indices.
type SourceFunc func(index uint64) *media.RawFrame

// Encoder is the subset of encode.FrameEncoder the pipeline drives.
type Encoder interface {
	Encode(frame *media.RawFrame) (media.AccessUnit, error)
	Close() ([]byte, error)
}

// State is the scheduler's mutable timing state, owned exclusively by the
// pipeline and mutated only on its own tick.
type State struct {
	NextDeadline   time.Time
	FrameIndex     uint64 // never decreases, never repeats
	FramesProduced uint64 // access units actually handed to the sink
}

// Pipeline owns one stream's pacing state, encoder, source, and sink. A
// single goroutine runs it; nothing here needs locking.
type Pipeline struct {
	log      *slog.Logger
	clock    Clock
	gate     Gate
	interval time.Duration
	tsInc    uint32
	source   SourceFunc
	enc      Encoder
	sink     Sink
	state    State
}

// New creates a pipeline targeting fps frames per second. The timestamp
// increment handed to the sink is media.RTPClockRate / fps. If log is nil,
// slog.Default() is used.
func New(fps int, source SourceFunc, enc Encoder, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:      log.With("component", "pipeline"),
		clock:    realClock{},
		gate:     NewGate(sink),
		interval: time.Second / time.Duration(fps),
		tsInc:    uint32(media.RTPClockRate / fps),
		source:   source,
		enc:      enc,
		sink:     sink,
	}
}

// SetClock replaces the pipeline's clock. Tests inject fakes; production
// code never calls this.
func (p *Pipeline) SetClock(c Clock) {
	p.clock = c
}

// State returns a copy of the current pacing state.
func (p *Pipeline) State() State {
	return p.state
}

// Tick runs one scheduler step against the given time. If the deadline has
// not been reached it does nothing. Otherwise it produces, encodes, and
// submits the next frame when the demand gate is open, then advances the
// deadline by exactly one interval — resynchronizing to now+interval if the
// process fell behind, trading strict frame-count accounting for bounded
// latency.
//
// Returned errors are fatal encode faults; a rejected frame (dimension
// mismatch) is logged and skipped without aborting the loop.
func (p *Pipeline) Tick(now time.Time) (bool, error) {
	if now.Before(p.state.NextDeadline) {
		return false, nil
	}

	produced := false
	if p.gate.Open() {
		frame := p.source(p.state.FrameIndex)
		au, err := p.enc.Encode(frame)

		var dimErr *encode.DimensionError
		switch {
		case err == nil:
			if len(au.Data) > 0 {
				p.sink.SubmitAccessUnit(au.Data, p.tsInc)
				p.state.FramesProduced++
			}
			p.state.FrameIndex++
			produced = true
		case errors.As(err, &dimErr):
			p.log.Warn("frame rejected, skipping", "index", p.state.FrameIndex, "error", err)
			p.state.FrameIndex++
		default:
			return false, fmt.Errorf("encode stage: %w", err)
		}
	}

	p.state.NextDeadline = p.state.NextDeadline.Add(p.interval)
	if p.state.NextDeadline.Before(now) {
		p.state.NextDeadline = now.Add(p.interval)
	}
	return produced, nil
}

// Run drives the tick loop until the context is cancelled or a fatal encode
// fault occurs, then flushes and closes the encoder. Suspensions are bounded
// slices, so cancellation is observed within maxSleepSlice.
func (p *Pipeline) Run(ctx context.Context) error {
	p.state.NextDeadline = p.clock.Now()
	p.log.Info("pipeline started",
		"interval", p.interval, "timestampIncrement", p.tsInc)

	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		if _, err := p.Tick(p.clock.Now()); err != nil {
			runErr = err
			break loop
		}

		remaining := p.state.NextDeadline.Sub(p.clock.Now())
		if remaining > minSleep {
			if remaining > maxSleepSlice {
				remaining = maxSleepSlice
			}
			p.clock.Sleep(remaining)
		}
	}

	// Clean shutdown: the codec must be flushed before resources go away,
	// even when the flushed bytes have nowhere left to go.
	flushed, err := p.enc.Close()
	switch {
	case err != nil:
		p.log.Error("flush stage failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	case len(flushed) > 0 && p.gate.Open():
		p.sink.SubmitAccessUnit(flushed, p.tsInc)
	}

	p.log.Info("pipeline stopped",
		"frameIndex", p.state.FrameIndex,
		"framesProduced", p.state.FramesProduced)
	return runErr
}
