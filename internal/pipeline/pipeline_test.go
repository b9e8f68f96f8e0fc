package pipeline

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/zsiec/beacon/internal/codec"
	"github.com/zsiec/beacon/internal/encode"
	"github.com/zsiec/beacon/internal/media"
	"github.com/zsiec/beacon/internal/source"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// fakeSink counts receivers and records submitted access units.
type fakeSink struct {
	receivers int
	units     [][]byte
	incs      []uint32
}

func (s *fakeSink) ReceiverCount() int { return s.receivers }

func (s *fakeSink) SubmitAccessUnit(data []byte, inc uint32) {
	s.units = append(s.units, data)
	s.incs = append(s.incs, inc)
}

// fakeEncoder implements Encoder with configurable per-call behavior.
type fakeEncoder struct {
	calls   int
	pts     int64
	data    []byte
	errOnce error
	err     error
	flush   []byte
	closed  bool
}

func (e *fakeEncoder) Encode(frame *media.RawFrame) (media.AccessUnit, error) {
	e.calls++
	if e.errOnce != nil {
		err := e.errOnce
		e.errOnce = nil
		return media.AccessUnit{}, err
	}
	if e.err != nil {
		return media.AccessUnit{}, e.err
	}
	au := media.AccessUnit{PTS: e.pts, Data: e.data}
	e.pts++
	return au, nil
}

func (e *fakeEncoder) Close() ([]byte, error) {
	e.closed = true
	return e.flush, nil
}

func countingSource(calls *[]uint64) SourceFunc {
	return func(index uint64) *media.RawFrame {
		*calls = append(*calls, index)
		return &media.RawFrame{Width: 320, Height: 240, Index: index, Pix: make([]byte, 320*240*3)}
	}
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTickGateClosed(t *testing.T) {
	t.Parallel()

	var sourceCalls []uint64
	sink := &fakeSink{receivers: 0}
	enc := &fakeEncoder{data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}}
	p := New(30, countingSource(&sourceCalls), enc, sink, nil)

	interval := time.Second / 30
	for i := 0; i < 5; i++ {
		if _, err := p.Tick(base.Add(time.Duration(i) * interval)); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}

	if len(sourceCalls) != 0 {
		t.Errorf("source called %d times with no receivers, want 0", len(sourceCalls))
	}
	if enc.calls != 0 {
		t.Errorf("encoder called %d times with no receivers, want 0", enc.calls)
	}
	if st := p.State(); st.FramesProduced != 0 || st.FrameIndex != 0 {
		t.Errorf("state advanced while gated: %+v", st)
	}
}

func TestTickGateOpenOneFramePerTick(t *testing.T) {
	t.Parallel()

	var sourceCalls []uint64
	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{data: []byte{0x00, 0x00, 0x00, 0x01, 0x65}}
	p := New(30, countingSource(&sourceCalls), enc, sink, nil)

	interval := time.Second / 30
	for i := 0; i < 10; i++ {
		produced, err := p.Tick(base.Add(time.Duration(i) * interval))
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if !produced {
			t.Errorf("tick %d: expected production", i)
		}
	}

	if enc.calls != 10 {
		t.Errorf("encoder calls: got %d, want 10", enc.calls)
	}
	for i, idx := range sourceCalls {
		if idx != uint64(i) {
			t.Errorf("source call %d: got index %d, want %d", i, idx, i)
		}
	}
	if len(sink.units) != 10 {
		t.Errorf("submitted units: got %d, want 10", len(sink.units))
	}
	for i, inc := range sink.incs {
		if inc != 3000 { // 90000 / 30
			t.Errorf("unit %d: timestamp increment got %d, want 3000", i, inc)
		}
	}
}

func TestTickBeforeDeadlineDoesNothing(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{data: []byte{0x01}}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)

	if _, err := p.Tick(base); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	// Deadline is now base+interval; an earlier time must be a no-op.
	produced, err := p.Tick(base.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if produced {
		t.Error("tick before deadline must not produce")
	}
	if enc.calls != 1 {
		t.Errorf("encoder calls: got %d, want 1", enc.calls)
	}
}

func TestTickDriftCorrectionBounded(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{data: []byte{0x01}}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)
	interval := time.Second / 30

	if _, err := p.Tick(base); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// Simulate a tick arriving far past the deadline, as if production had
	// stalled for five intervals. The new deadline must resynchronize to
	// now+interval, not queue up catch-up ticks.
	late := base.Add(5 * interval)
	if _, err := p.Tick(late); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	st := p.State()
	if st.NextDeadline.Before(late) {
		t.Errorf("deadline %v is behind now %v", st.NextDeadline, late)
	}
	if ahead := st.NextDeadline.Sub(late); ahead > interval {
		t.Errorf("deadline %v ahead of now, want at most one interval (%v)", ahead, interval)
	}
}

func TestTickDimensionErrorSkipsFrame(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{
		errOnce: &encode.DimensionError{GotWidth: 1, GotHeight: 1, WantWidth: 320, WantHeight: 240},
		data:    []byte{0x01},
	}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)
	interval := time.Second / 30

	if _, err := p.Tick(base); err != nil {
		t.Fatalf("rejected frame must not be fatal: %v", err)
	}
	if st := p.State(); st.FrameIndex != 1 {
		t.Errorf("frame index after rejection: got %d, want 1", st.FrameIndex)
	}

	if _, err := p.Tick(base.Add(interval)); err != nil {
		t.Fatalf("Tick after rejection: %v", err)
	}
	if len(sink.units) != 1 {
		t.Errorf("units after recovery: got %d, want 1", len(sink.units))
	}
}

func TestTickCodecFaultFatal(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{err: errors.New("session died")}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)

	if _, err := p.Tick(base); err == nil {
		t.Fatal("codec fault must propagate")
	}
}

// fakeCodecSession emits one IDR-like packet per picture and counts calls,
// standing in for libx264 so the full encoder path runs without cgo.
type fakeCodecSession struct {
	encodeCalls int
}

func (s *fakeCodecSession) Encode(pic *image.YCbCr) ([][]byte, error) {
	s.encodeCalls++
	return [][]byte{{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, byte(s.encodeCalls)}}, nil
}

func (s *fakeCodecSession) Extradata() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
	}
}

func (s *fakeCodecSession) Flush() ([][]byte, error) { return nil, nil }
func (s *fakeCodecSession) Close() error             { return nil }

// Drives the full path with real components around a fake codec: a
// 320x240 30fps pattern source feeding a FrameEncoder. With no receivers
// the codec must stay untouched; with one receiver, ten ticks must yield
// ten encodes and ten delivered access units.
func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	sess := &fakeCodecSession{}
	enc, err := encode.New(codec.Config{Width: 320, Height: 240, FPS: 30},
		func(codec.Config) (codec.Session, error) { return sess, nil }, nil)
	if err != nil {
		t.Fatalf("encode.New: %v", err)
	}

	pattern := source.NewPattern(320, 240, 30)
	sink := &fakeSink{}
	p := New(30, pattern.Frame, enc, sink, nil)
	interval := time.Second / 30

	now := base
	for i := 0; i < 5; i++ {
		if _, err := p.Tick(now); err != nil {
			t.Fatalf("Tick: %v", err)
		}
		now = now.Add(interval)
	}
	if sess.encodeCalls != 0 {
		t.Fatalf("codec touched with no receivers: %d calls", sess.encodeCalls)
	}

	sink.receivers = 1
	for i := 0; i < 10; i++ {
		produced, err := p.Tick(now)
		if err != nil {
			t.Fatalf("Tick: %v", err)
		}
		if !produced {
			t.Errorf("tick %d: expected production", i)
		}
		now = now.Add(interval)
	}

	if sess.encodeCalls != 10 {
		t.Errorf("codec encode calls: got %d, want 10", sess.encodeCalls)
	}
	if got := enc.FramesEncoded(); got != 10 {
		t.Errorf("frames encoded: got %d, want 10 (timestamps 0..9)", got)
	}
	if len(sink.units) != 10 {
		t.Fatalf("delivered units: got %d, want 10", len(sink.units))
	}
	for i, unit := range sink.units {
		if len(unit) == 0 {
			t.Errorf("unit %d: empty access unit delivered", i)
		}
	}
	if st := p.State(); st.FramesProduced != 10 {
		t.Errorf("frames produced: got %d, want 10", st.FramesProduced)
	}
}

func TestRunShutdownFlushesEncoder(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{
		data:  []byte{0x01},
		flush: []byte{0x00, 0x00, 0x00, 0x01, 0x41, 0xEE},
	}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)
	p.SetClock(&fakeClock{now: base})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !enc.closed {
		t.Error("Run must close the encoder on shutdown")
	}
	if len(sink.units) == 0 {
		t.Fatal("flushed access units must be delivered")
	}
	last := sink.units[len(sink.units)-1]
	if string(last) != string(enc.flush) {
		t.Errorf("last unit: got %x, want flushed bytes %x", last, enc.flush)
	}
}

func TestRunFatalFaultStillCloses(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{receivers: 1}
	enc := &fakeEncoder{err: errors.New("session died")}
	p := New(30, countingSource(new([]uint64)), enc, sink, nil)
	p.SetClock(&fakeClock{now: base})

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected fatal fault from Run")
	}
	if !enc.closed {
		t.Error("encoder must be closed even after a fatal fault")
	}
}
