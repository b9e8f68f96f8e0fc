// Package source produces the synthetic video frames Beacon streams: an
// animated sine-gradient test pattern with a moving box, generated purely
// from the frame's sequence index so output is reproducible.
package source

import (
	"math"

	"github.com/zsiec/beacon/internal/media"
)

const boxSize = 50

// Pattern generates test-pattern frames at a fixed resolution. Frame is a
// pure function of the sequence index: the same index always yields the
// same pixels.
type Pattern struct {
	width  int
	height int
	fps    int
}

// NewPattern creates a generator for width x height frames whose animation
// clock advances by 1/fps per index.
func NewPattern(width, height, fps int) *Pattern {
	return &Pattern{width: width, height: height, fps: fps}
}

// Frame renders the test pattern for the given sequence index: three phase-
// shifted sine gradients across red, green, and blue, plus a white box
// orbiting the frame.
func (p *Pattern) Frame(index uint64) *media.RawFrame {
	w, h := p.width, p.height
	t := float64(index) / float64(p.fps)

	frame := &media.RawFrame{
		Width:  w,
		Height: h,
		Index:  index,
		Pix:    make([]byte, w*h*3),
	}

	// Normalized coordinates in [0,1]; guard the 1-pixel degenerate case.
	xs := make([]float64, w)
	for x := range xs {
		if w > 1 {
			xs[x] = float64(x) / float64(w-1)
		}
	}

	for y := 0; y < h; y++ {
		yy := 0.0
		if h > 1 {
			yy = float64(y) / float64(h-1)
		}
		g := toByte(math.Sin(yy*3 + t*1.3))
		row := frame.Pix[y*w*3:]
		for x := 0; x < w; x++ {
			xx := xs[x]
			i := x * 3
			row[i] = toByte(math.Sin(xx*3 + t))
			row[i+1] = g
			row[i+2] = toByte(math.Sin((xx+yy)*2 + t*0.7))
		}
	}

	p.drawBox(frame, t)
	return frame
}

// drawBox paints a white box whose position orbits with the animation clock.
func (p *Pattern) drawBox(frame *media.RawFrame, t float64) {
	w, h := p.width, p.height
	size := boxSize
	if size > w {
		size = w
	}
	if size > h {
		size = h
	}

	boxX := int((math.Sin(t) + 1) / 2 * float64(w-size))
	boxY := int((math.Cos(t*0.7) + 1) / 2 * float64(h-size))

	for y := boxY; y < boxY+size; y++ {
		row := frame.Pix[(y*w+boxX)*3:]
		for i := 0; i < size*3; i++ {
			row[i] = 0xFF
		}
	}
}

// toByte maps a sine value in [-1,1] to [0,255].
func toByte(v float64) byte {
	return byte((v + 1) / 2 * 255)
}
