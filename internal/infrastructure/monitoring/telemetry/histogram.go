package telemetry

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/turtacn/molgfn/pkg/errors"
)

var (
	barColor        = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}
	highlightColor  = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	backgroundColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

// RenderHistogram draws counts as a PNG bar chart.  The bar at highlight is
// drawn in a second colour; pass -1 for none.
func RenderHistogram(counts []int, highlight, width, height int) ([]byte, error) {
	if len(counts) == 0 {
		return nil, errors.InvalidParam("histogram has no bins")
	}
	if width < len(counts) || height < 2 {
		return nil, errors.InvalidParam("histogram image too small")
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, backgroundColor)
		}
	}
	peak := 0
	for _, c := range counts {
		if c > peak {
			peak = c
		}
	}
	binWidth := width / len(counts)
	barWidth := binWidth - 1
	if barWidth < 1 {
		barWidth = 1
	}
	for i, c := range counts {
		if peak == 0 || c <= 0 {
			continue
		}
		h := c * (height - 1) / peak
		if h == 0 {
			h = 1
		}
		col := barColor
		if i == highlight {
			col = highlightColor
		}
		for x := i * binWidth; x < i*binWidth+barWidth; x++ {
			for y := height - h; y < height; y++ {
				img.Set(x, y, col)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode histogram png")
	}
	return buf.Bytes(), nil
}
