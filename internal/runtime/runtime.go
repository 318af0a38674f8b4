// Package runtime assembles the engine from config: telemetry, the optional
// bus, the run journal, service backends, and the pipeline runner.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lectorlabs/lector-core/internal/bus"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/natsserver"
	"github.com/lectorlabs/lector-core/internal/pipeline"
	"github.com/lectorlabs/lector-core/internal/runstore"
	"github.com/lectorlabs/lector-core/internal/synth"
	"github.com/lectorlabs/lector-core/internal/transform"
)

// Engine owns the wired-up components for the life of the process.
type Engine struct {
	cfg       config.Config
	logger    *slog.Logger
	runner    *pipeline.Runner
	store     *runstore.Store
	busClient *bus.Client
	embedded  *natsserver.EmbeddedServer
	tel       *telemetrySet
}

// multiSink fans run events out to every configured sink.
type multiSink []pipeline.EventSink

func (m multiSink) RunEvent(ctx context.Context, runID, kind string, payload any) {
	for _, s := range m {
		s.RunEvent(ctx, runID, kind, payload)
	}
}

// Start builds and starts the engine.
func Start(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logger}

	tel, err := setupTelemetry(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	e.tel = tel

	store, err := runstore.Open(ctx, cfg.RunStore, logger)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("open run store: %w", err)
	}
	e.store = store

	sinks := multiSink{store}
	if cfg.Bus.Enabled {
		embedded, err := natsserver.Start(cfg.Bus, logger)
		if err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("start embedded bus: %w", err)
		}
		e.embedded = embedded

		client, err := bus.Connect(ctx, cfg.Bus, logger)
		if err != nil {
			e.Close(ctx)
			return nil, fmt.Errorf("connect bus: %w", err)
		}
		e.busClient = client
		sinks = append(sinks, client)
	}

	transformer, err := transform.New(cfg.Rewrite.Transform)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("build transform backend: %w", err)
	}
	synthesizer, err := synth.New(cfg.Speech.Synth)
	if err != nil {
		e.Close(ctx)
		return nil, fmt.Errorf("build synth backend: %w", err)
	}

	rewriter := pipeline.NewRewriter(cfg.Rewrite, transformer, logger, sinks)
	speaker := pipeline.NewSpeaker(cfg.Speech, synthesizer, logger, sinks)
	e.runner = pipeline.NewRunner(rewriter, speaker, logger)

	logger.Info("engine started",
		slog.String("engine", cfg.EngineName),
		slog.String("environment", cfg.Environment),
		slog.Bool("bus", cfg.Bus.Enabled))
	return e, nil
}

// Runner exposes the pipeline runner for job submission.
func (e *Engine) Runner() *pipeline.Runner { return e.runner }

// Store exposes the run journal.
func (e *Engine) Store() *runstore.Store { return e.store }

// Bus exposes the bus client, nil when the bus is disabled.
func (e *Engine) Bus() *bus.Client { return e.busClient }

// Close shuts everything down in reverse order of startup.
func (e *Engine) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if e.busClient != nil {
		e.busClient.Close()
	}
	if e.embedded != nil {
		e.embedded.Shutdown()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("run store close error", slog.String("error", err.Error()))
		}
	}
	if e.tel != nil {
		if err := e.tel.Close(shutdownCtx); err != nil {
			e.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
