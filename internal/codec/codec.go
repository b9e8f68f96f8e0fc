// Package codec defines the encoder session boundary: a bytes-in/bytes-out
// transform that turns planar YCbCr pictures into compressed H.264 output.
// The pipeline only ever talks to the Session interface, so the libx264
// binding stays swappable and tests run without cgo.
package codec

import "image"

// Config fixes the parameters of a codec session at open time. Resolution,
// rate, and profile are configuration knobs, not negotiated; they cannot
// change for the lifetime of a session.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// Session is a single open encoder session. Calls are synchronous and
// bounded-latency; none of them may block indefinitely.
//
// Encode submits one picture and returns all currently-available output
// packets, which may be none (the codec buffered the frame) or several.
// Extradata returns the session-initialization metadata the codec has
// accumulated so far; it grows as the session warms up and callers re-query
// it until parameter sets become discoverable. Flush signals end-of-stream
// and drains any buffered packets; it must be called exactly once, before
// Close releases the session's resources.
type Session interface {
	Encode(pic *image.YCbCr) ([][]byte, error)
	Extradata() []byte
	Flush() ([][]byte, error)
	Close() error
}

// OpenFunc opens a codec session with the given configuration. A failure to
// open is fatal to the encoder being constructed.
type OpenFunc func(Config) (Session, error)
