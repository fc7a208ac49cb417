package led

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"golang.org/x/exp/mmap"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
)

// SampleRegions writes the RGB value of every region pixel for each of the
// first totalFrames frames to w, frame-major (frames × LEDs × 3 bytes). It
// returns the number of frames written, which is short of totalFrames only
// when the source runs out.
func SampleRegions(ctx context.Context, src video.FrameSource, regions []Region, totalFrames int, w io.Writer) (int, error) {
	r, err := src.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("opening frames: %w", err)
	}
	defer r.Close()

	bw := bufio.NewWriter(w)
	rec := make([]byte, 3*len(regions))

	n := 0
	for ; n < totalFrames; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		img, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n, err)
		}

		b := img.Bounds()
		for i, reg := range regions {
			x, y := b.Min.X+reg.Col, b.Min.Y+reg.Row
			if !image.Pt(x, y).In(b) {
				return n, fmt.Errorf("%s at (%d,%d) outside %dx%d frame", reg.Name, reg.Row, reg.Col, b.Dx(), b.Dy())
			}
			rec[3*i], rec[3*i+1], rec[3*i+2] = rgb(img, x, y)
		}
		if _, err := bw.Write(rec); err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Series is a persisted LED intensity record, frames × LEDs × RGB.
type Series struct {
	ra   *mmap.ReaderAt
	leds int
}

// OpenSeries memory-maps a series file written by SampleRegions.
func OpenSeries(path string, leds int) (*Series, error) {
	if leds <= 0 {
		return nil, errors.New("series needs at least one LED")
	}
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	if ra.Len()%(3*leds) != 0 {
		ra.Close()
		return nil, fmt.Errorf("%s: size %d is not a multiple of %d", path, ra.Len(), 3*leds)
	}
	return &Series{ra: ra, leds: leds}, nil
}

func (s *Series) Frames() int { return s.ra.Len() / (3 * s.leds) }
func (s *Series) LEDs() int   { return s.leds }

// Pixel returns the RGB value of one LED in one frame.
func (s *Series) Pixel(frame, led int) [3]byte {
	off := (frame*s.leds + led) * 3
	return [3]byte{s.ra.At(off), s.ra.At(off + 1), s.ra.At(off + 2)}
}

func (s *Series) Close() error { return s.ra.Close() }
