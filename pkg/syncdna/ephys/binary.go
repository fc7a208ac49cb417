package ephys

import (
	"fmt"
	"sort"

	"golang.org/x/exp/mmap"

	"github.com/himanishpuri/SyncDNA/pkg/syncdna/pulse"
)

// Binary is a memory-mapped interleaved int16 recording.
type Binary struct {
	ra       *mmap.ReaderAt
	channels int
}

func OpenBinary(path string, channels int) (*Binary, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	ra, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &Binary{ra: ra, channels: channels}, nil
}

// Samples is the number of samples per channel.
func (b *Binary) Samples() int { return b.ra.Len() / (2 * b.channels) }

func (b *Binary) Channels() int { return b.channels }

// SyncChannel is the last channel of each sample frame.
func (b *Binary) SyncChannel() ChannelView {
	return b.Channel(b.channels - 1)
}

func (b *Binary) Channel(ch int) ChannelView {
	return ChannelView{ra: b.ra, base: 2 * ch, stride: 2 * b.channels, n: b.Samples()}
}

func (b *Binary) Close() error { return b.ra.Close() }

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

// ValueCount is one bin of the sync value histogram.
type ValueCount struct {
	Value int16
	Count int
}

// ValueHistogram counts distinct sample values, most frequent first. It is
// logged when a recording fails validation, to show what the line carried.
func ValueHistogram(src pulse.Source) []ValueCount {
	counts := make(map[int16]int)
	for i := 0; i < src.Len(); i++ {
		counts[src.At(i)]++
	}
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
