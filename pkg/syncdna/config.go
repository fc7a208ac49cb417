package syncdna

import (
	"context"
	"time"

	"github.com/himanishpuri/SyncDNA/pkg/config"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/drift"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/led"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
)

// FrameSourceFunc opens the decoded frames of a video file.
type FrameSourceFunc func(ctx context.Context, path string) (video.FrameSource, error)

type Config struct {
	Settings    *config.Settings
	DBPath      string
	Logger      Logger
	Storage     Storage
	Stretcher   drift.Stretcher
	Positions   *led.PositionTable
	FrameSource FrameSourceFunc
	Now         func() time.Time
}

type Option func(*Config)

func WithSettings(s *config.Settings) Option {
	return func(c *Config) {
		c.Settings = s
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

// WithStretcher overrides the time stretcher chosen by audio.stretcher.
func WithStretcher(st drift.Stretcher) Option {
	return func(c *Config) {
		c.Stretcher = st
	}
}

func WithPositionTable(t *led.PositionTable) Option {
	return func(c *Config) {
		c.Positions = t
	}
}

func WithFrameSource(fn FrameSourceFunc) Option {
	return func(c *Config) {
		c.FrameSource = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

func ffmpegFrames(ctx context.Context, path string) (video.FrameSource, error) {
	src, _, err := video.NewFFmpegSource(ctx, path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func defaultConfig() *Config {
	return &Config{
		Settings:    config.Default(),
		Positions:   led.DefaultPositionTable(),
		FrameSource: ffmpegFrames,
		Now:         time.Now,
	}
}
