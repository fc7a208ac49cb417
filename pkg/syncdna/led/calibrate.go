package led

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
)

// luma weights match the usual BGR→gray conversion of camera tooling.
func luma(img image.Image, x, y int) float64 {
	r, g, b := rgb(img, x, y)
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

func rgb(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch m := img.(type) {
	case *image.RGBA:
		i := m.PixOffset(x, y)
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	case *image.Gray:
		v := m.Pix[m.PixOffset(x, y)]
		return v, v, v
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

// window is the search area around a nominal position, clamped to the frame.
func window(r Region, dev int, bounds image.Rectangle) image.Rectangle {
	rect := image.Rect(
		bounds.Min.X+r.Col-dev, bounds.Min.Y+r.Row-dev,
		bounds.Min.X+r.Col+dev, bounds.Min.Y+r.Row+dev,
	)
	return rect.Intersect(bounds)
}

type peak struct {
	value float64
	frame int
	row   int
	col   int
}

// Calibrate refines nominal LED positions. For every LED it finds the frame,
// among the first searchFrames, where its window is brightest, and moves the
// LED to the brightest pixel of that frame. The result is a fresh slice;
// regions is not modified.
func Calibrate(ctx context.Context, src video.FrameSource, regions []Region, pxDeviation, searchFrames int) ([]Region, error) {
	if len(regions) == 0 {
		return nil, errors.New("no LED regions to calibrate")
	}
	if searchFrames <= 0 {
		searchFrames = 1
	}

	r, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening frames: %w", err)
	}
	defer r.Close()

	peaks := make([]peak, len(regions))
	for i := range peaks {
		peaks[i] = peak{value: -1, frame: -1}
	}

	for fr := 0; fr < searchFrames; fr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", fr, err)
		}

		b := img.Bounds()
		for i, reg := range regions {
			win := window(reg, pxDeviation, b)
			for y := win.Min.Y; y < win.Max.Y; y++ {
				for x := win.Min.X; x < win.Max.X; x++ {
					if v := luma(img, x, y); v > peaks[i].value {
						peaks[i] = peak{value: v, frame: fr, row: y - b.Min.Y, col: x - b.Min.X}
					}
				}
			}
		}
	}

	out := make([]Region, len(regions))
	for i, reg := range regions {
		out[i] = reg
		if peaks[i].frame >= 0 {
			out[i].Row, out[i].Col = peaks[i].row, peaks[i].col
		}
	}
	return out, nil
}
