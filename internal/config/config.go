// Package config provides the configuration schema and YAML loader for the
// voxflow server.
package config

import "time"

// LogLevel controls log verbosity for the voxflow server.
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

// Config is the root configuration structure for voxflow.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Turn     TurnConfig     `yaml:"turn"`
	VAD      VADConfig      `yaml:"vad"`
}

// ServerConfig holds network and logging settings for the voxflow server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the TCP address for the Prometheus /metrics endpoint.
	// Empty disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PipelineConfig holds per-task runtime settings.
type PipelineConfig struct {
	// SampleRate is the PCM sample rate in Hz announced at task start.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count announced at task start.
	Channels int `yaml:"channels"`

	// AllowInterruptions enables the interruption protocol.
	AllowInterruptions bool `yaml:"allow_interruptions"`

	// EnableMetrics turns on stage-latency metric frames.
	EnableMetrics bool `yaml:"enable_metrics"`

	// IdleTimeout ends a task that has seen no boundary activity for this
	// long. Zero means the default of five minutes.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// TurnConfig holds end-of-turn analysis parameters.
type TurnConfig struct {
	// StopSecs is the silence duration, in seconds, after which a turn is
	// considered complete without consulting the classifier.
	StopSecs float64 `yaml:"stop_secs"`

	// PreSpeechMS is the audio window, in milliseconds, retained before the
	// first detected speech sample.
	PreSpeechMS float64 `yaml:"pre_speech_ms"`

	// MaxDurationSecs caps the audio segment handed to the classifier.
	MaxDurationSecs float64 `yaml:"max_duration_secs"`
}

// VADConfig holds voice-activity-detection settings.
type VADConfig struct {
	// Threshold is the RMS energy level above which a chunk counts as speech.
	Threshold float64 `yaml:"threshold"`

	// HangoverChunks is how many consecutive silent chunks end a speech run.
	HangoverChunks int `yaml:"hangover_chunks"`
}

// Default returns a Config populated with sensible defaults for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
			LogLevel:    LogInfo,
		},
		Pipeline: PipelineConfig{
			SampleRate:         16000,
			Channels:           1,
			AllowInterruptions: true,
			EnableMetrics:      true,
			IdleTimeout:        5 * time.Minute,
		},
		Turn: TurnConfig{
			StopSecs:        3,
			PreSpeechMS:     0,
			MaxDurationSecs: 8,
		},
		VAD: VADConfig{
			Threshold:      0.02,
			HangoverChunks: 3,
		},
	}
}
