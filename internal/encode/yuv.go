package encode

import (
	"image"
	"image/color"

	"github.com/zsiec/beacon/internal/media"
)

// rgbToI420 converts a packed RGB frame to 4:2:0 planar YCbCr in dst,
// which must already have the frame's dimensions. Luma is computed per
// pixel; chroma is averaged over each 2x2 block before conversion
// (BT.601 full-range, via the stdlib conversion).
func rgbToI420(src *media.RawFrame, dst *image.YCbCr) {
	w, h := src.Width, src.Height

	for y := 0; y < h; y++ {
		row := dst.Y[y*dst.YStride:]
		for x := 0; x < w; x++ {
			r, g, b := src.RGBAt(x, y)
			yy, _, _ := color.RGBToYCbCr(r, g, b)
			row[x] = yy
		}
	}

	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			var sr, sg, sb, n int
			for dy := 0; dy < 2 && by+dy < h; dy++ {
				for dx := 0; dx < 2 && bx+dx < w; dx++ {
					r, g, b := src.RGBAt(bx+dx, by+dy)
					sr += int(r)
					sg += int(g)
					sb += int(b)
					n++
				}
			}
			_, cb, cr := color.RGBToYCbCr(uint8(sr/n), uint8(sg/n), uint8(sb/n))
			i := (by/2)*dst.CStride + bx/2
			dst.Cb[i] = cb
			dst.Cr[i] = cr
		}
	}
}
