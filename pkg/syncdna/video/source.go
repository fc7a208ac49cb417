// Package video provides the video-side inputs of synchronization: decoded
// frames, per-camera frame counts and frame timestamps.
package video

import (
	"context"
	"image"
	"io"
)

// FrameSource can be read from the first frame any number of times.
type FrameSource interface {
	Open(ctx context.Context) (FrameReader, error)
}

// FrameReader yields frames in order and returns io.EOF after the last one.
type FrameReader interface {
	Next() (image.Image, error)
	Close() error
}

// Frames is an in-memory FrameSource.
type Frames []image.Image

func (f Frames) Open(context.Context) (FrameReader, error) {
	return &sliceReader{frames: f}, nil
}

type sliceReader struct {
	frames Frames
	pos    int
}

func (r *sliceReader) Next() (image.Image, error) {
	if r.pos >= len(r.frames) {
		return nil, io.EOF
	}
	img := r.frames[r.pos]
	r.pos++
	return img, nil
}

func (r *sliceReader) Close() error { return nil }
