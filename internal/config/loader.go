package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// maxProfileDims is the largest vector pgvector can index.
const maxProfileDims = 16000

// Defaults returns a fully populated configuration.
func Defaults() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued field of cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.LogLevel, LogInfo)

	setDefault(&cfg.Tools.FFmpeg, "ffmpeg")
	setDefault(&cfg.Tools.FFprobe, "ffprobe")
	setDefault(&cfg.Tools.Sox, "sox")

	setDefault(&cfg.Analysis.PitchFloor, 75)
	setDefault(&cfg.Analysis.PitchCeiling, 600)
	setDefault(&cfg.Analysis.VoicingThreshold, 0.45)
	setDefault(&cfg.Analysis.SilenceThreshold, 0.03)
	setDefault(&cfg.Analysis.IntensityMinPitch, 100)
	setDefault(&cfg.Analysis.DownsampleThreshold, 10000)
	setDefault(&cfg.Analysis.DownsampleChunks, 1000)

	setDefault(&cfg.Plot.Width, 6.4)
	setDefault(&cfg.Plot.Height, 4.8)
	setDefault(&cfg.Plot.DynamicRange, 70)

	setDefault(&cfg.Batch.Workers, 1)
	setDefault(&cfg.Store.ProfileDims, 64)

	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.UploadDir, filepath.Join(os.TempDir(), "voxplot"))
	setDefault(&cfg.Server.MaxUploadBytes, 256<<20)
	setDefault(&cfg.Server.ShutdownTimeout, 10*time.Second)

	setDefault(&cfg.Telemetry.ServiceName, "voxplot")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is [Load], except that an empty path or a missing file
// yields [Defaults].
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Defaults(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document is a valid, all-default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	a := cfg.Analysis
	if a.PitchFloor < 0 || a.PitchCeiling < 0 {
		errs = append(errs, errors.New("analysis: pitch_floor and pitch_ceiling must not be negative"))
	}
	if a.PitchFloor > 0 && a.PitchCeiling > 0 && a.PitchFloor >= a.PitchCeiling {
		errs = append(errs, fmt.Errorf("analysis.pitch_floor %.1f must be below pitch_ceiling %.1f", a.PitchFloor, a.PitchCeiling))
	}
	if a.VoicingThreshold < 0 || a.VoicingThreshold > 1 {
		errs = append(errs, fmt.Errorf("analysis.voicing_threshold %.2f is out of range [0, 1]", a.VoicingThreshold))
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("analysis.silence_threshold %.2f is out of range [0, 1]", a.SilenceThreshold))
	}
	if a.IntensityMinPitch < 0 {
		errs = append(errs, errors.New("analysis.intensity_min_pitch must not be negative"))
	}
	if a.DownsampleThreshold < 0 || a.DownsampleChunks < 0 {
		errs = append(errs, errors.New("analysis: downsample_threshold and downsample_chunks must not be negative"))
	}
	if a.DownsampleChunks > 0 && a.DownsampleThreshold > 0 && a.DownsampleChunks > a.DownsampleThreshold {
		errs = append(errs, fmt.Errorf("analysis.downsample_chunks %d exceeds downsample_threshold %d", a.DownsampleChunks, a.DownsampleThreshold))
	}
	if a.MaxSampleRate < 0 {
		errs = append(errs, errors.New("analysis.max_sample_rate must not be negative"))
	}
	if a.MaxSampleRate > 0 && float64(a.MaxSampleRate) < 2*a.PitchCeiling {
		errs = append(errs, fmt.Errorf("analysis.max_sample_rate %d is below twice the pitch ceiling", a.MaxSampleRate))
	}

	if cfg.Plot.Width < 0 || cfg.Plot.Height < 0 {
		errs = append(errs, errors.New("plot: width and height must not be negative"))
	}
	if cfg.Plot.DynamicRange < 0 {
		errs = append(errs, errors.New("plot.dynamic_range must not be negative"))
	}

	if cfg.Batch.Workers < 0 {
		errs = append(errs, fmt.Errorf("batch.workers %d must not be negative", cfg.Batch.Workers))
	}

	if cfg.Store.ProfileDims < 0 || cfg.Store.ProfileDims > maxProfileDims {
		errs = append(errs, fmt.Errorf("store.profile_dims %d is out of range [1, %d]", cfg.Store.ProfileDims, maxProfileDims))
	}

	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must not be negative"))
	}

	return errors.Join(errs...)
}
