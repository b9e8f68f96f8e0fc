// Package encode owns the codec session for one stream and turns raw RGB
// frames into transport-ready H.264 access units with monotonically
// increasing presentation timestamps.
package encode

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/zsiec/beacon/internal/codec"
	"github.com/zsiec/beacon/internal/h264"
	"github.com/zsiec/beacon/internal/media"
)

// ErrClosed is returned by Encode after Close has been called. The encoder
// session is gone; the caller must construct a new FrameEncoder.
var ErrClosed = errors.New("encoder is closed")

// DimensionError reports a frame whose dimensions don't match the encoder's
// configuration. It is a recoverable, per-call error: the caller may retry
// with a corrected frame, and the PTS counter does not advance.
type DimensionError struct {
	GotWidth, GotHeight   int
	WantWidth, WantHeight int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("frame dimensions %dx%d, encoder configured for %dx%d",
		e.GotWidth, e.GotHeight, e.WantWidth, e.WantHeight)
}

// FrameEncoder converts RGB frames into Annex B access units through a
// single codec session. It is not safe for concurrent use; one goroutine
// owns it for the lifetime of the stream.
//
// Timestamps handed to the codec are a frame counter starting at 0,
// advancing by exactly one per successful Encode call regardless of how
// many output units result. This preserves the decoder-visible playback
// rate even when the codec buffers frames internally.
type FrameEncoder struct {
	log    *slog.Logger
	cfg    codec.Config
	sess   codec.Session
	pic    *image.YCbCr
	pts    int64
	closed bool

	sps, pps []byte
	info     h264.SPSInfo
	infoOK   bool
}

// New opens a codec session with the given configuration and returns an
// encoder bound to it. A nil open func selects the libx264 session; a nil
// log selects slog.Default(). Session open failure is fatal: no encoder is
// returned and no retry is attempted.
func New(cfg codec.Config, open codec.OpenFunc, log *slog.Logger) (*FrameEncoder, error) {
	if log == nil {
		log = slog.Default()
	}
	if open == nil {
		open = codec.OpenX264
	}

	sess, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoder session open: %w", err)
	}

	log.Debug("encoder session open",
		"width", cfg.Width, "height", cfg.Height, "fps", cfg.FPS)

	return &FrameEncoder{
		log:  log.With("component", "encoder"),
		cfg:  cfg,
		sess: sess,
		pic:  image.NewYCbCr(image.Rect(0, 0, cfg.Width, cfg.Height), image.YCbCrSubsampleRatio420),
	}, nil
}

// Encode converts one RGB frame to planar YCbCr, submits it to the codec
// with the next presentation timestamp, and drains all currently-available
// output into a single start-code-delimited buffer. The returned access
// unit's Data is empty when the codec buffered the frame; its PTS is valid
// either way.
//
// A *DimensionError leaves the encoder usable. Any other error is a codec
// fault, fatal to this encoder instance.
func (e *FrameEncoder) Encode(frame *media.RawFrame) (media.AccessUnit, error) {
	if e.closed {
		return media.AccessUnit{}, ErrClosed
	}
	if frame.Width != e.cfg.Width || frame.Height != e.cfg.Height {
		return media.AccessUnit{}, &DimensionError{
			GotWidth: frame.Width, GotHeight: frame.Height,
			WantWidth: e.cfg.Width, WantHeight: e.cfg.Height,
		}
	}

	rgbToI420(frame, e.pic)

	au := media.AccessUnit{PTS: e.pts}
	packets, err := e.sess.Encode(e.pic)
	if err != nil {
		return media.AccessUnit{}, fmt.Errorf("encode frame pts=%d: %w", au.PTS, err)
	}
	e.pts++

	for _, pkt := range packets {
		au.Data = append(au.Data, h264.Normalize(pkt)...)
	}
	return au, nil
}

// ParameterSets returns the SPS and PPS parameter sets once both are
// discoverable from the codec's session extradata. Until then ok is false;
// callers poll after encoding begins. Once found, the pair is cached and
// identical for the lifetime of the session.
func (e *FrameEncoder) ParameterSets() (sps, pps []byte, ok bool) {
	if e.sps != nil && e.pps != nil {
		return e.sps, e.pps, true
	}

	sps, pps, ok = h264.ExtractParameterSets(e.sess.Extradata())
	if ok {
		e.sps, e.pps = sps, pps
		e.inspectSPS(sps)
	}
	return sps, pps, ok
}

// inspectSPS parses the discovered SPS to cross-check the coded resolution
// against the session configuration and record the stream's codec identity.
func (e *FrameEncoder) inspectSPS(sps []byte) {
	info, err := h264.ParseSPS(sps)
	if err != nil {
		e.log.Warn("parameter sets discovered but SPS unparseable",
			"spsLen", len(sps), "error", err)
		return
	}
	e.info = info
	e.infoOK = true

	if info.Width != e.cfg.Width || info.Height != e.cfg.Height {
		e.log.Warn("coded resolution differs from configuration",
			"codedWidth", info.Width, "codedHeight", info.Height,
			"configWidth", e.cfg.Width, "configHeight", e.cfg.Height)
	}
	e.log.Debug("parameter sets discovered",
		"codec", info.CodecString(),
		"codedWidth", info.Width, "codedHeight", info.Height,
		"spsLen", len(e.sps), "ppsLen", len(e.pps))
}

// StreamInfo returns the parameters parsed from the session's SPS. ok is
// false until ParameterSets has discovered a parseable SPS.
func (e *FrameEncoder) StreamInfo() (h264.SPSInfo, bool) {
	return e.info, e.infoOK
}

// FramesEncoded returns the number of frames submitted to the codec, which
// is also the next presentation timestamp.
func (e *FrameEncoder) FramesEncoded() int64 {
	return e.pts
}

// Close flushes the codec session with an end-of-stream signal, drains any
// buffered output, and releases the session. The drained bytes are returned
// in Annex B form so the caller can forward or discard them. Calling Close
// again is a no-op; calling Encode afterwards returns ErrClosed.
func (e *FrameEncoder) Close() ([]byte, error) {
	if e.closed {
		return nil, nil
	}
	e.closed = true

	packets, err := e.sess.Flush()
	if err != nil {
		e.sess.Close()
		return nil, fmt.Errorf("flush encoder session: %w", err)
	}

	var data []byte
	for _, pkt := range packets {
		data = append(data, h264.Normalize(pkt)...)
	}

	if err := e.sess.Close(); err != nil {
		return data, fmt.Errorf("close codec session: %w", err)
	}

	e.log.Debug("encoder closed", "framesEncoded", e.pts, "flushedBytes", len(data))
	return data, nil
}
