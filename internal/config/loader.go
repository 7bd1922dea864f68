package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file in the working directory, when present, is loaded
// into the process environment first so config files can reference secrets
// via the environment.
func Load(path string) (*Config, error) {
	// Missing .env is fine; only report real read failures.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
// Unset fields are filled from [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Pipeline.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must be positive", cfg.Pipeline.SampleRate))
	}
	if cfg.Pipeline.Channels <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.channels %d must be positive", cfg.Pipeline.Channels))
	}
	if cfg.Pipeline.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.idle_timeout %s must not be negative", cfg.Pipeline.IdleTimeout))
	}

	if cfg.Turn.StopSecs <= 0 {
		errs = append(errs, fmt.Errorf("turn.stop_secs %.2f must be positive", cfg.Turn.StopSecs))
	}
	if cfg.Turn.PreSpeechMS < 0 {
		errs = append(errs, fmt.Errorf("turn.pre_speech_ms %.2f must not be negative", cfg.Turn.PreSpeechMS))
	}
	if cfg.Turn.MaxDurationSecs <= 0 {
		errs = append(errs, fmt.Errorf("turn.max_duration_secs %.2f must be positive", cfg.Turn.MaxDurationSecs))
	}

	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.3f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.HangoverChunks < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_chunks %d must not be negative", cfg.VAD.HangoverChunks))
	}

	return errors.Join(errs...)
}
