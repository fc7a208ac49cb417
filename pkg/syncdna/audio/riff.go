// Package audio reads and writes the multichannel ultrasonic recordings.
// Large recordings are memory-mapped; the sync channel is never copied
// whole unless a caller asks for it.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WavFormat holds the format information from the fmt chunk
type WavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Info locates the PCM payload inside a WAV file.
type Info struct {
	Format     WavFormat
	DataOffset int64
	DataSize   int64
}

// Frames is the number of samples per channel.
func (i Info) Frames() int {
	block := int64(i.Format.NumChannels) * int64(i.Format.BitsPerSample/8)
	if block == 0 {
		return 0
	}
	return int(i.DataSize / block)
}

// DurationSeconds is the payload length in seconds.
func (i Info) DurationSeconds() float64 {
	if i.Format.SampleRate == 0 {
		return 0
	}
	return float64(i.Frames()) / float64(i.Format.SampleRate)
}

func readRIFFHeader(r io.Reader) error {
	var hdr struct {
		RIFF [4]byte
		Size uint32
		WAVE [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(hdr.RIFF[:]) != "RIFF" || string(hdr.WAVE[:]) != "WAVE" {
		return errors.New("not a WAV/RIFF file")
	}
	return nil
}

func readFmtChunk(r io.ReadSeeker, chunkSize uint32) (WavFormat, error) {
	var raw struct {
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}
	if chunkSize < 16 {
		return WavFormat{}, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return WavFormat{}, fmt.Errorf("reading fmt chunk: %w", err)
	}
	if extra := int64(chunkSize) - 16; extra > 0 {
		if _, err := r.Seek(extra, io.SeekCurrent); err != nil {
			return WavFormat{}, fmt.Errorf("seeking past fmt extras: %w", err)
		}
	}

	format := WavFormat{
		AudioFormat:   raw.AudioFormat,
		NumChannels:   raw.NumChannels,
		SampleRate:    raw.SampleRate,
		BitsPerSample: raw.BitsPerSample,
	}
	// WAVE_FORMAT_EXTENSIBLE carries plain PCM for multichannel recorders.
	if format.AudioFormat == 0xFFFE {
		format.AudioFormat = 1
	}
	return format, nil
}

// scan walks the chunk list without reading the payload. It does not assume
// a canonical 44-byte header.
func scan(r io.ReadSeeker) (*Info, error) {
	if err := readRIFFHeader(r); err != nil {
		return nil, err
	}

	info := &Info{}
	fmtFound, dataFound := false, false
	for !(fmtFound && dataFound) {
		var hdr struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}

		switch string(hdr.ID[:]) {
		case "fmt ":
			f, err := readFmtChunk(r, hdr.Size)
			if err != nil {
				return nil, err
			}
			info.Format = f
			fmtFound = true
		case "data":
			off, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			info.DataOffset = off
			info.DataSize = int64(hdr.Size)
			dataFound = true
			if _, err := r.Seek(int64(hdr.Size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("seeking past data: %w", err)
			}
		default:
			// LIST, INFO, junk and friends
			if _, err := r.Seek(int64(hdr.Size), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skipping chunk %q: %w", hdr.ID[:], err)
			}
		}

		if hdr.Size%2 == 1 {
			if _, err := r.Seek(1, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("seeking pad byte: %w", err)
			}
		}
	}

	if !fmtFound {
		return nil, errors.New("fmt chunk not found")
	}
	if !dataFound {
		return nil, errors.New("data chunk not found")
	}
	return info, nil
}

// Inspect returns the format and payload location of a WAV file.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := scan(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	// Recorders that crash leave the data size unpatched.
	if end := info.DataOffset + info.DataSize; end > st.Size() || info.DataSize == 0 {
		info.DataSize = st.Size() - info.DataOffset
	}
	return info, nil
}
