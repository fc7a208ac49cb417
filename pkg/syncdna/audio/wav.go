package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/SyncDNA/pkg/utils"
)

const writeChunkFrames = 1 << 16

// WriteWAV encodes equally long channels as interleaved 16-bit PCM. The file
// is written next to path and moved into place when complete.
func WriteWAV(path string, sampleRate int, channels ...[]int16) error {
	if len(channels) == 0 {
		return errors.New("no channels to write")
	}
	frames := len(channels[0])
	for i, ch := range channels[1:] {
		if len(ch) != frames {
			return fmt.Errorf("channel %d has %d samples, want %d", i+1, len(ch), frames)
		}
	}

	tmpPath := path + ".tmp.wav"
	defer os.Remove(tmpPath)

	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, 16, len(channels), 1)
	format := &goaudio.Format{NumChannels: len(channels), SampleRate: sampleRate}
	buf := &goaudio.IntBuffer{Format: format, SourceBitDepth: 16}

	for start := 0; start < frames; start += writeChunkFrames {
		end := min(start+writeChunkFrames, frames)
		data := buf.Data[:0]
		for i := start; i < end; i++ {
			for _, ch := range channels {
				data = append(data, int(ch[i]))
			}
		}
		buf.Data = data
		if err := enc.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("encoding %s: %w", path, err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return utils.MoveFile(tmpPath, path)
}

// ReadWAV decodes a whole file into per-channel int16 slices. Use OpenPCM
// for recordings too large to hold in memory.
func ReadWAV(path string) ([][]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", path, err)
	}
	if dec.BitDepth != 16 {
		return nil, 0, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}

	nch := int(dec.NumChans)
	if nch == 0 {
		return nil, 0, fmt.Errorf("%s: zero channels", path)
	}
	frames := len(buf.Data) / nch
	out := make([][]int16, nch)
	for c := range out {
		out[c] = make([]int16, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			out[c][i] = int16(buf.Data[i*nch+c])
		}
	}
	return out, int(dec.SampleRate), nil
}
