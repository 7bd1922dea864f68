// Command voxflow runs the voxflow conversational frame-dataflow server.
//
// It accepts WebSocket sessions, runs each one through a pipeline of
// voice-activity gating, end-of-turn analysis, and a response producer, and
// streams synthesized output frames back over the same connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/health"
	"github.com/voxflow/voxflow/internal/observe"
	"github.com/voxflow/voxflow/pkg/event"
	"github.com/voxflow/voxflow/pkg/frame"
	"github.com/voxflow/voxflow/pkg/pipeline"
	"github.com/voxflow/voxflow/pkg/stages"
	"github.com/voxflow/voxflow/pkg/transport/ws"
	"github.com/voxflow/voxflow/pkg/turn"
	"github.com/voxflow/voxflow/pkg/vad"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxflow: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxflow: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxflow starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Session event bus ─────────────────────────────────────────────────────
	bus := event.NewBus()
	defer bus.Close()
	for _, kind := range []event.Kind{
		event.ClientConnected, event.ClientDisconnected,
		event.SpeechStarted, event.SpeechEnded,
	} {
		sub := bus.Subscribe(kind)
		go func() {
			for ev := range sub.C {
				slog.Debug("session event", "kind", ev.Kind, "session_id", ev.SessionID)
			}
		}()
	}

	srv := &server{cfg: cfg, bus: bus, metrics: metrics}

	// ── Metrics endpoint ──────────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.Server.MetricsAddr, metricsMux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics endpoint up", "addr", cfg.Server.MetricsAddr)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	h := health.New(nil, health.WithSessionCounter(func() int {
		return int(srv.sessions.Load())
	}))
	h.Register(mux)
	mux.HandleFunc("GET /ws", srv.handleSession)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// server holds the shared state for session handlers.
type server struct {
	cfg      *config.Config
	bus      *event.Bus
	metrics  *observe.Metrics
	sessions atomic.Int64
}

// handleSession upgrades one WebSocket connection and drives a pipeline task
// over it until the client disconnects or the server shuts down.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	log := slog.With("session_id", sessionID)

	conn, err := ws.Accept(w, r, ws.WithEventBus(s.bus, sessionID))
	if err != nil {
		log.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close()

	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	done := s.metrics.TaskStarted(r.Context())
	defer done()

	task, err := s.newSessionTask(conn)
	if err != nil {
		log.Error("failed to build session pipeline", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Feed inbound frames into the task until the client hangs up, then let
	// the End frame drain the pipeline.
	go func() {
		for f := range conn.Frames() {
			if err := task.QueueFrames(f); err != nil {
				return
			}
		}
		_ = task.QueueFrames(frame.NewEnd())
	}()

	log.Info("session started")
	runner := pipeline.NewRunner()
	if err := runner.Run(ctx, task); err != nil {
		log.Warn("session ended with error", "err", err)
		return
	}
	log.Info("session ended")
}

// newSessionTask assembles the per-session pipeline: input normalisation,
// VAD-gated turn detection, and a loopback response producer, with all
// outbound frames written back to the client connection.
func (s *server) newSessionTask(conn *ws.Conn) (*pipeline.Task, error) {
	cfg := s.cfg

	analyzer, err := turn.NewAnalyzer(cfg.Pipeline.SampleRate, nil, turn.WithParams(turn.Params{
		StopSecs:        cfg.Turn.StopSecs,
		PreSpeechMS:     cfg.Turn.PreSpeechMS,
		MaxDurationSecs: cfg.Turn.MaxDurationSecs,
	}))
	if err != nil {
		return nil, err
	}

	gate := stages.NewVADGate(vad.Energy{}, analyzer, stages.WithVADConfig(vad.Config{
		SampleRate:     cfg.Pipeline.SampleRate,
		Threshold:      cfg.VAD.Threshold,
		HangoverChunks: cfg.VAD.HangoverChunks,
	}))

	resampler := stages.NewResampler(cfg.Pipeline.SampleRate, cfg.Pipeline.Channels)

	pipe, err := pipeline.New(resampler, gate, stages.NewEcho())
	if err != nil {
		return nil, err
	}

	return pipeline.NewTask(pipe,
		pipeline.WithAudioFormat(cfg.Pipeline.SampleRate, cfg.Pipeline.Channels),
		pipeline.WithInterruptions(cfg.Pipeline.AllowInterruptions),
		pipeline.WithIdleTimeout(cfg.Pipeline.IdleTimeout),
		pipeline.WithEventBus(s.bus),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithBoundaryHandler(conn.Send),
	)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
