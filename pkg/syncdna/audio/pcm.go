package audio

import (
	"errors"
	"fmt"

	"golang.org/x/exp/mmap"
)

var ErrUnsupportedFormat = errors.New("only 16-bit PCM WAV is supported")

// PCM is a memory-mapped 16-bit WAV file.
type PCM struct {
	info *Info
	ra   *mmap.ReaderAt
	path string
}

// OpenPCM maps path read-only.
func OpenPCM(path string) (*PCM, error) {
	info, err := Inspect(path)
	if err != nil {
		return nil, err
	}
	if info.Format.AudioFormat != 1 || info.Format.BitsPerSample != 16 {
		return nil, fmt.Errorf("%s: %w (format %d, %d bits)", path, ErrUnsupportedFormat,
			info.Format.AudioFormat, info.Format.BitsPerSample)
	}
	if info.Format.NumChannels == 0 {
		return nil, fmt.Errorf("%s: zero channels", path)
	}

	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &PCM{info: info, ra: ra, path: path}, nil
}

func (p *PCM) Path() string        { return p.path }
func (p *PCM) Info() Info          { return *p.info }
func (p *PCM) Channels() int       { return int(p.info.Format.NumChannels) }
func (p *PCM) SampleRate() float64 { return float64(p.info.Format.SampleRate) }
func (p *PCM) Frames() int         { return p.info.Frames() }

// Channel returns a view of one channel; it satisfies pulse.Source.
func (p *PCM) Channel(ch int) (ChannelView, error) {
	if ch < 0 || ch >= p.Channels() {
		return ChannelView{}, fmt.Errorf("channel %d out of range [0,%d)", ch, p.Channels())
	}
	return ChannelView{
		ra:     p.ra,
		base:   int(p.info.DataOffset) + 2*ch,
		stride: 2 * p.Channels(),
		n:      p.Frames(),
	}, nil
}

func (p *PCM) Close() error { return p.ra.Close() }

// ChannelView reads little-endian int16 samples of one interleaved channel.
type ChannelView struct {
	ra     *mmap.ReaderAt
	base   int
	stride int
	n      int
}

func (v ChannelView) Len() int { return v.n }

func (v ChannelView) At(i int) int16 {
	off := v.base + i*v.stride
	return int16(uint16(v.ra.At(off)) | uint16(v.ra.At(off+1))<<8)
}

// Slice copies samples [start, end) into memory.
func (v ChannelView) Slice(start, end int) []int16 {
	start, end = max(start, 0), min(end, v.n)
	if end <= start {
		return nil
	}
	out := make([]int16, end-start)
	for i := range out {
		out[i] = v.At(start + i)
	}
	return out
}
