package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReader(t *testing.T) {
	t.Parallel()

	t.Run("full config", func(t *testing.T) {
		t.Parallel()
		yaml := `
server:
  listen_addr: ":9000"
  metrics_addr: ":9100"
  log_level: debug
pipeline:
  sample_rate: 8000
  channels: 2
  allow_interruptions: false
  enable_metrics: false
  idle_timeout: 90s
turn:
  stop_secs: 1.5
  pre_speech_ms: 200
  max_duration_secs: 6
vad:
  threshold: 0.04
  hangover_chunks: 1
`
		cfg, err := LoadFromReader(strings.NewReader(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != LogDebug {
			t.Fatalf("server = %+v, want parsed values", cfg.Server)
		}
		if cfg.Pipeline.SampleRate != 8000 || cfg.Pipeline.Channels != 2 {
			t.Fatalf("pipeline = %+v, want parsed values", cfg.Pipeline)
		}
		if cfg.Pipeline.IdleTimeout != 90*time.Second {
			t.Fatalf("idle timeout = %v, want 90s", cfg.Pipeline.IdleTimeout)
		}
		if cfg.Turn.StopSecs != 1.5 || cfg.Turn.PreSpeechMS != 200 {
			t.Fatalf("turn = %+v, want parsed values", cfg.Turn)
		}
		if cfg.VAD.Threshold != 0.04 || cfg.VAD.HangoverChunks != 1 {
			t.Fatalf("vad = %+v, want parsed values", cfg.VAD)
		}
	})

	t.Run("defaults fill unset fields", func(t *testing.T) {
		t.Parallel()
		cfg, err := LoadFromReader(strings.NewReader(`server: {listen_addr: ":7000"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.ListenAddr != ":7000" {
			t.Fatalf("listen addr = %q, want :7000", cfg.Server.ListenAddr)
		}
		def := Default()
		if cfg.Pipeline.SampleRate != def.Pipeline.SampleRate {
			t.Fatalf("sample rate = %d, want default %d", cfg.Pipeline.SampleRate, def.Pipeline.SampleRate)
		}
		if cfg.Turn.StopSecs != def.Turn.StopSecs {
			t.Fatalf("stop secs = %v, want default %v", cfg.Turn.StopSecs, def.Turn.StopSecs)
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := LoadFromReader(strings.NewReader(`server: {listen_adr: ":8080"}`)); err == nil {
			t.Fatal("want error for misspelled key, got nil")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()
		if _, err := LoadFromReader(strings.NewReader("server: [}")); err == nil {
			t.Fatal("want parse error, got nil")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"zero sample rate", func(c *Config) { c.Pipeline.SampleRate = 0 }},
		{"zero channels", func(c *Config) { c.Pipeline.Channels = 0 }},
		{"negative idle timeout", func(c *Config) { c.Pipeline.IdleTimeout = -time.Second }},
		{"zero stop secs", func(c *Config) { c.Turn.StopSecs = 0 }},
		{"negative pre speech", func(c *Config) { c.Turn.PreSpeechMS = -1 }},
		{"zero max duration", func(c *Config) { c.Turn.MaxDurationSecs = 0 }},
		{"threshold above one", func(c *Config) { c.VAD.Threshold = 1.5 }},
		{"negative hangover", func(c *Config) { c.VAD.HangoverChunks = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("want validation error, got nil")
			}
		})
	}

	t.Run("defaults validate cleanly", func(t *testing.T) {
		t.Parallel()
		if err := Validate(Default()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Fatalf("%q reported invalid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Fatal("unknown level reported valid")
	}
}
