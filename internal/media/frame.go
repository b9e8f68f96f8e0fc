// Package media defines the core frame types that flow through the Beacon
// pipeline, from the synthetic frame source through encoding to RTP
// distribution.
package media

// RTPClockRate is the RTP reference clock for video, in Hz (RFC 6184 §8.1).
// Per-frame timestamp increments are RTPClockRate / fps.
const RTPClockRate = 90000

// RawFrame is a single uncompressed picture: packed RGB samples, 3 bytes per
// pixel, row-major, with dimensions fixed at pipeline construction. A frame
// is owned exclusively by its producer until handed to the encoder.
type RawFrame struct {
	Width  int
	Height int
	Index  uint64 // sequence index assigned by the pacing loop
	Pix    []byte // len = Width * Height * 3
}

// RGBAt returns the RGB sample at (x, y). Callers must stay in bounds.
func (f *RawFrame) RGBAt(x, y int) (r, g, b uint8) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// AccessUnit is one input frame's worth of compressed output: zero or more
// NAL units concatenated in Annex B (start-code-delimited) form, plus the
// presentation timestamp they belong to. Data may be empty while the codec
// buffers frames internally; the PTS counter still advances so the
// decoder-visible playback rate is preserved.
type AccessUnit struct {
	PTS  int64
	Data []byte
}
