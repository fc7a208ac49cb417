// Package config loads SyncDNA settings from a YAML file, SYNCDNA_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYNCDNA"

type Settings struct {
	DBPath     string `mapstructure:"db_path"`
	TempDir    string `mapstructure:"temp_dir"`
	ReportPath string `mapstructure:"report_path"`

	Log   LogSettings   `mapstructure:"log"`
	Audio AudioSettings `mapstructure:"audio"`
	Video VideoSettings `mapstructure:"video"`
	Sync  SyncSettings  `mapstructure:"sync"`
	Ephys EphysSettings `mapstructure:"ephys"`
}

type LogSettings struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

type AudioSettings struct {
	// Devices that receive the camera triggerbox input ("m", "s").
	TriggerboxDevices []string `mapstructure:"triggerbox_devices"`
	TriggerboxChannel int      `mapstructure:"triggerbox_channel"`
	// SyncChannel carries the controller's IPI train in its LSB.
	SyncChannel  int           `mapstructure:"sync_channel"`
	SyncBit      uint          `mapstructure:"sync_bit"`
	LSBPolarity  string        `mapstructure:"lsb_polarity"`
	CropBackend  string        `mapstructure:"crop_backend"`
	Stretcher    string        `mapstructure:"stretcher"`
	SoxBin       string        `mapstructure:"sox_bin"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Glitch suppression on IPI trains: pulses separated by fewer than
	// GlitchMergeSamples off samples are merged, then pulses shorter than
	// GlitchMinSamples are dropped. Zero disables either step.
	GlitchMinSamples   int `mapstructure:"glitch_min_samples"`
	GlitchMergeSamples int `mapstructure:"glitch_merge_samples"`
}

type VideoSettings struct {
	SyncCameras       []string `mapstructure:"sync_cameras"`
	Extension         string   `mapstructure:"extension"`
	LEDVersion        string   `mapstructure:"led_version"`
	LEDPixelDeviation int      `mapstructure:"led_pixel_deviation"`
	ThresholdStart    float64  `mapstructure:"threshold_start"`
	ThresholdStop     float64  `mapstructure:"threshold_stop"`
	ThresholdStep     float64  `mapstructure:"threshold_step"`
	MinStateFrames    int      `mapstructure:"min_state_frames"`
	Onset             string   `mapstructure:"onset"`
	UseFrameTimes     bool     `mapstructure:"use_frame_times"`
}

type SyncSettings struct {
	ToleranceMs      float64 `mapstructure:"tolerance_ms"`
	MinResyncMs      float64 `mapstructure:"min_resync_ms"`
	MaxResyncMs      float64 `mapstructure:"max_resync_ms"`
	DeleteOriginals  bool    `mapstructure:"delete_originals"`
	ReferencePattern string  `mapstructure:"reference_pattern"`
	HeaderLines      int     `mapstructure:"header_lines"`
	RegressionSeed   uint64  `mapstructure:"regression_seed"`
}

type EphysSettings struct {
	Enabled         bool    `mapstructure:"enabled"`
	FileType        string  `mapstructure:"file_type"`
	ToleranceMs     float64 `mapstructure:"tolerance_ms"`
	CalibrationFile string  `mapstructure:"calibration_file"`
	// RecordRoot holds the per-probe changepoint directories. Empty means
	// the parent of the session directory.
	RecordRoot string `mapstructure:"record_root"`

	NIDQ NIDQSettings `mapstructure:"nidq"`
}

// NIDQSettings locate the triggerbox and IPI lines on the digital word of
// a National Instruments DAQ recording (*.nidq.bin).
type NIDQSettings struct {
	Enabled bool `mapstructure:"enabled"`
	// Channels and SampleRate override nSavedChans and niSampRate from the
	// .meta file when non-zero.
	Channels      int     `mapstructure:"channels"`
	SampleRate    float64 `mapstructure:"sample_rate"`
	TriggerboxBit uint    `mapstructure:"triggerbox_bit"`
	SyncBit       uint    `mapstructure:"sync_bit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "syncdna.sqlite3")
	v.SetDefault("temp_dir", os.TempDir())
	v.SetDefault("report_path", "")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.color", true)

	v.SetDefault("audio.triggerbox_devices", []string{"m"})
	v.SetDefault("audio.triggerbox_channel", 4)
	v.SetDefault("audio.sync_channel", 2)
	v.SetDefault("audio.sync_bit", 0)
	v.SetDefault("audio.lsb_polarity", "active_low")
	v.SetDefault("audio.crop_backend", "sox")
	v.SetDefault("audio.stretcher", "vocoder")
	v.SetDefault("audio.sox_bin", "sox")
	v.SetDefault("audio.poll_interval", 5*time.Second)
	v.SetDefault("audio.glitch_min_samples", 0)
	v.SetDefault("audio.glitch_merge_samples", 0)

	v.SetDefault("video.sync_cameras", []string{"21372315"})
	v.SetDefault("video.extension", "mp4")
	v.SetDefault("video.led_version", "current")
	v.SetDefault("video.led_pixel_deviation", 10)
	v.SetDefault("video.threshold_start", 0.35)
	v.SetDefault("video.threshold_stop", 0.20)
	v.SetDefault("video.threshold_step", 0.01)
	v.SetDefault("video.min_state_frames", 35)
	v.SetDefault("video.onset", "darkening")
	v.SetDefault("video.use_frame_times", false)

	v.SetDefault("sync.tolerance_ms", 10.0)
	v.SetDefault("sync.min_resync_ms", 1.0)
	v.SetDefault("sync.max_resync_ms", 18.0)
	v.SetDefault("sync.delete_originals", true)
	v.SetDefault("sync.reference_pattern", "*CoolTerm*")
	v.SetDefault("sync.header_lines", 3)
	v.SetDefault("sync.regression_seed", 0)

	v.SetDefault("ephys.enabled", true)
	v.SetDefault("ephys.file_type", "ap")
	v.SetDefault("ephys.tolerance_ms", 10.0)
	v.SetDefault("ephys.calibration_file", "")
	v.SetDefault("ephys.record_root", "")
	v.SetDefault("ephys.nidq.enabled", true)
	v.SetDefault("ephys.nidq.channels", 0)
	v.SetDefault("ephys.nidq.sample_rate", 0.0)
	v.SetDefault("ephys.nidq.triggerbox_bit", 0)
	v.SetDefault("ephys.nidq.sync_bit", 1)
}

// Default returns the built-in settings without reading files or the
// environment.
func Default() *Settings {
	v := viper.New()
	setDefaults(v)
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &s
}

// Load reads path (or syncdna.yaml from the working directory and
// ~/.config/syncdna when path is empty), applies SYNCDNA_* overrides such as
// SYNCDNA_SYNC_TOLERANCE_MS, and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("syncdna")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "syncdna"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks value ranges and enumerations. All problems are reported
// together.
func (s *Settings) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(len(s.Audio.TriggerboxDevices) > 0, "audio.triggerbox_devices must not be empty")
	for _, d := range s.Audio.TriggerboxDevices {
		check(d == "m" || d == "s", "audio.triggerbox_devices: unknown device %q", d)
	}
	check(s.Audio.TriggerboxChannel >= 0, "audio.triggerbox_channel must be >= 0")
	check(s.Audio.SyncChannel >= 0, "audio.sync_channel must be >= 0")
	check(s.Audio.SyncBit < 16, "audio.sync_bit must be below 16")
	check(s.Audio.LSBPolarity == "active_low" || s.Audio.LSBPolarity == "active_high",
		"audio.lsb_polarity must be active_low or active_high, got %q", s.Audio.LSBPolarity)
	check(s.Audio.CropBackend == "sox" || s.Audio.CropBackend == "native",
		"audio.crop_backend must be sox or native, got %q", s.Audio.CropBackend)
	check(s.Audio.Stretcher == "vocoder" || s.Audio.Stretcher == "sox",
		"audio.stretcher must be vocoder or sox, got %q", s.Audio.Stretcher)
	check(s.Audio.PollInterval > 0, "audio.poll_interval must be positive")
	check(s.Audio.GlitchMinSamples >= 0, "audio.glitch_min_samples must be >= 0")
	check(s.Audio.GlitchMergeSamples >= 0, "audio.glitch_merge_samples must be >= 0")

	check(len(s.Video.SyncCameras) > 0, "video.sync_cameras must not be empty")
	check(s.Video.LEDPixelDeviation >= 0, "video.led_pixel_deviation must be >= 0")
	check(s.Video.ThresholdStep > 0, "video.threshold_step must be positive")
	check(s.Video.ThresholdStart >= s.Video.ThresholdStop,
		"video.threshold_start (%g) must not be below threshold_stop (%g)", s.Video.ThresholdStart, s.Video.ThresholdStop)
	check(s.Video.ThresholdStop > 0, "video.threshold_stop must be positive")
	check(s.Video.Onset == "darkening" || s.Video.Onset == "brightening",
		"video.onset must be darkening or brightening, got %q", s.Video.Onset)

	check(s.Sync.ToleranceMs > 0, "sync.tolerance_ms must be positive")
	check(s.Sync.MinResyncMs >= 0, "sync.min_resync_ms must be >= 0")
	check(s.Sync.MaxResyncMs > 0, "sync.max_resync_ms must be positive")
	check(s.Sync.MinResyncMs <= s.Sync.MaxResyncMs, "sync.min_resync_ms must not exceed max_resync_ms")
	check(s.Sync.HeaderLines >= 0, "sync.header_lines must be >= 0")
	check(s.Sync.ReferencePattern != "", "sync.reference_pattern must be set")

	check(s.Ephys.FileType != "", "ephys.file_type must be set")
	check(s.Ephys.ToleranceMs > 0, "ephys.tolerance_ms must be positive")
	check(s.Ephys.NIDQ.Channels >= 0, "ephys.nidq.channels must be >= 0")
	check(s.Ephys.NIDQ.SampleRate >= 0, "ephys.nidq.sample_rate must be >= 0")
	check(s.Ephys.NIDQ.TriggerboxBit < 16 && s.Ephys.NIDQ.SyncBit < 16, "ephys.nidq bit positions must be below 16")
	check(s.Ephys.NIDQ.TriggerboxBit != s.Ephys.NIDQ.SyncBit, "ephys.nidq.triggerbox_bit and sync_bit must differ")

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
