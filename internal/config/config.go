// Package config provides the configuration schema and loader for voxplot.
//
// Every field is optional. [Defaults] describes a working setup that finds
// ffmpeg, ffprobe and sox on PATH, keeps analyses in memory and serves on
// :8080.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel  LogLevel        `yaml:"log_level"`
	Tools     ToolsConfig     `yaml:"tools"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Plot      PlotConfig      `yaml:"plot"`
	Batch     BatchConfig     `yaml:"batch"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ToolsConfig locates the external media tools.
type ToolsConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	Sox     string `yaml:"sox"`

	// KeepExtracted leaves "<input>.wav" files produced from video or
	// converted audio on disk. Default: true.
	KeepExtracted *bool `yaml:"keep_extracted"`
}

// Keep reports the effective KeepExtracted setting.
func (t ToolsConfig) Keep() bool { return t.KeepExtracted == nil || *t.KeepExtracted }

// AnalysisConfig tunes the feature extractors.
type AnalysisConfig struct {
	PitchFloor       float64 `yaml:"pitch_floor"`
	PitchCeiling     float64 `yaml:"pitch_ceiling"`
	VoicingThreshold float64 `yaml:"voicing_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	IntensityMinPitch float64 `yaml:"intensity_min_pitch"`

	// Amplitude series longer than DownsampleThreshold points are reduced
	// to DownsampleChunks points before text output.
	DownsampleThreshold int `yaml:"downsample_threshold"`
	DownsampleChunks    int `yaml:"downsample_chunks"`

	// MaxSampleRate caps the rate used for extraction; recordings above it
	// are resampled down after decoding. Zero keeps the decoded rate.
	MaxSampleRate int `yaml:"max_sample_rate"`
}

// PlotConfig sets the image size in inches and the spectrogram dynamic
// range in dB.
type PlotConfig struct {
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	DynamicRange float64 `yaml:"dynamic_range"`
}

// BatchConfig bounds concurrent analyses.
type BatchConfig struct {
	Workers int `yaml:"workers"`

	// Journal is a JSON-lines file that receives one entry per analysis.
	// Empty disables the journal.
	Journal string `yaml:"journal"`
}

// StoreConfig selects the analysis store. An empty PostgresDSN keeps
// analyses in memory.
type StoreConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`

	// ProfileDims is the length of the similarity vector. Changing it
	// requires a fresh table.
	ProfileDims int `yaml:"profile_dims"`
}

// ServerConfig holds settings for "voxplot serve".
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// UploadDir receives uploaded recordings and their artifacts.
	// Default: a "voxplot" directory under the OS temp dir.
	UploadDir string `yaml:"upload_dir"`

	// MaxUploadBytes caps the multipart body size. Default: 256 MiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig controls metric export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// PrometheusTextfile, when set, receives a node_exporter textfile
	// with the metrics of each CLI run.
	PrometheusTextfile string `yaml:"prometheus_textfile"`
}
