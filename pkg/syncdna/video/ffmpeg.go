package video

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type Metadata struct {
	Width       int
	Height      int
	FrameCount  int
	FPS         float64
	DurationSec float64
	Codec       string
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	NbFrames     string `json:"nb_frames"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

func (p *ffprobeOutput) firstVideoStream() *ffprobeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "video" {
			return &p.Streams[i]
		}
	}
	return nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// Probe reads stream geometry and nominal timing with ffprobe.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(
		ctx,
		"ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	vs := probe.firstVideoStream()
	if vs == nil {
		return nil, errors.New("no video stream found")
	}

	duration, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	frames, _ := strconv.Atoi(vs.NbFrames)

	return &Metadata{
		Width:       vs.Width,
		Height:      vs.Height,
		FrameCount:  frames,
		FPS:         parseRate(vs.AvgFrameRate),
		DurationSec: duration,
		Codec:       vs.CodecName,
	}, nil
}

// FFmpegSource decodes a video file to raw RGB frames through an ffmpeg pipe.
type FFmpegSource struct {
	Path   string
	Width  int
	Height int
}

// NewFFmpegSource probes path for its frame geometry.
func NewFFmpegSource(ctx context.Context, path string) (*FFmpegSource, *Metadata, error) {
	meta, err := Probe(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, nil, fmt.Errorf("%s: invalid frame size %dx%d", path, meta.Width, meta.Height)
	}
	return &FFmpegSource{Path: path, Width: meta.Width, Height: meta.Height}, meta, nil
}

func (s *FFmpegSource) Open(ctx context.Context) (FrameReader, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-v", "quiet",
		"-i", s.Path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	return &ffmpegReader{
		cmd:    cmd,
		cancel: cancel,
		r:      bufio.NewReaderSize(stdout, 1<<20),
		w:      s.Width,
		h:      s.Height,
		buf:    make([]byte, s.Width*s.Height*3),
	}, nil
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	r      *bufio.Reader
	w, h   int
	buf    []byte
}

func (r *ffmpegReader) Next() (image.Image, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, r.w, r.h))
	for i, j := 0, 0; i < len(r.buf); i, j = i+3, j+4 {
		img.Pix[j] = r.buf[i]
		img.Pix[j+1] = r.buf[i+1]
		img.Pix[j+2] = r.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func (r *ffmpegReader) Close() error {
	r.cancel()
	// ffmpeg is killed when the reader is closed early; that exit is expected.
	_ = r.cmd.Wait()
	return nil
}
