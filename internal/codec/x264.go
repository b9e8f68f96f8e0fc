package codec

import (
	"bytes"
	"fmt"
	"image"

	"github.com/gen2brain/x264-go"
)

// x264Session wraps a libx264 encoder configured for low-latency live
// streaming: fastest preset, zero-latency tuning, baseline profile, matching
// the knobs every mainstream RTSP client can decode without negotiation.
// libx264 writes Annex B output into buf; each Encode call drains whatever
// the encoder produced for that picture.
type x264Session struct {
	buf       bytes.Buffer
	enc       *x264.Encoder
	extradata []byte
}

// OpenX264 opens a libx264 session for the given configuration. The stream
// headers (SPS/PPS) that libx264 emits at open time are captured as the
// session's extradata.
func OpenX264(cfg Config) (Session, error) {
	s := &x264Session{}

	opts := &x264.Options{
		Width:     cfg.Width,
		Height:    cfg.Height,
		FrameRate: cfg.FPS,
		Preset:    "ultrafast",
		Tune:      "zerolatency",
		Profile:   "baseline",
		LogLevel:  x264.LogError,
	}

	enc, err := x264.NewEncoder(&s.buf, opts)
	if err != nil {
		return nil, fmt.Errorf("open x264 session (%dx%d@%d): %w",
			cfg.Width, cfg.Height, cfg.FPS, err)
	}
	s.enc = enc

	// NewEncoder writes the stream headers before the first picture.
	s.extradata = append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()

	return s, nil
}

func (s *x264Session) Encode(pic *image.YCbCr) ([][]byte, error) {
	if err := s.enc.Encode(pic); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *x264Session) Extradata() []byte {
	return s.extradata
}

func (s *x264Session) Flush() ([][]byte, error) {
	if err := s.enc.Flush(); err != nil {
		return nil, err
	}
	return s.drain(), nil
}

func (s *x264Session) Close() error {
	return s.enc.Close()
}

// drain moves everything libx264 wrote since the last call out of the
// session buffer.
func (s *x264Session) drain() [][]byte {
	if s.buf.Len() == 0 {
		return nil
	}
	out := append([]byte(nil), s.buf.Bytes()...)
	s.buf.Reset()
	return [][]byte{out}
}
