package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lectorlabs/lector-core/internal/audio"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/ssml"
	"github.com/lectorlabs/lector-core/internal/synth"
)

// Speaker runs the synthesis stage: plan byte-measured markup windows, check
// each right before its call, synthesize with pacing and retries, then
// assemble the clips into one track with chapter markers.
type Speaker struct {
	cfg     config.SpeechConfig
	backend synth.Synthesizer
	logger  *slog.Logger
	events  EventSink
	tel     *telemetry
}

func NewSpeaker(cfg config.SpeechConfig, backend synth.Synthesizer, logger *slog.Logger, events EventSink) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(slog.String("component", "speech")),
		events:  sinkOrNop(events),
		tel:     newTelemetry(),
	}
}

// SpeechJob names the inputs of one synthesis run.
type SpeechJob struct {
	RunID      string
	Markup     string
	Title      string
	Author     string
	OutputPath string
}

// Run synthesizes a markup document to a finished audio file. Planning
// failures abort. A window whose markup cannot be repaired falls back to its
// bare text with a warning; a window whose service call fails after retries
// is skipped and recorded. At least one window must succeed. A canceled run
// still assembles and writes whatever synthesized before the cancel, and
// returns that partial result alongside the context error.
func (s *Speaker) Run(ctx context.Context, job SpeechJob) (*SpeechResult, error) {
	start := time.Now()
	ctx, span := s.tel.tracer.Start(ctx, "speech.run",
		trace.WithAttributes(attribute.String("run_id", job.RunID)))
	defer span.End()

	s.emit(ctx, job.RunID, StatePlanning, 0, 0, 0, "")
	windows, err := ssml.Plan(job.Markup, s.cfg.MaxWindowBytes, s.cfg.MinWindowBytes)
	if err != nil {
		s.emit(ctx, job.RunID, StateFailed, 0, 0, 0, err.Error())
		return nil, fmt.Errorf("plan synthesis windows: %w", err)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("nothing to synthesize")
	}

	s.logger.Info("synthesis planned",
		slog.String("run_id", job.RunID),
		slog.Int("windows", len(windows)),
		slog.Int("markup_bytes", len(job.Markup)))

	exec := newExecutor(s.cfg.MaxRetries,
		time.Duration(s.cfg.BaseRetryDelay)*time.Millisecond,
		0,
		s.cfg.RequestsPerMin)

	voice := synth.ResolveVoice(s.cfg.Synth.Voice)
	stats := Stats{WindowsTotal: len(windows)}
	var pieces []audio.Piece
	var cancelErr error

	currentMarkup := ""
	exec.onRetry = func(window, attempt int, err error) {
		if attempt != 1 {
			return
		}
		s.events.RunEvent(ctx, job.RunID, "speech.window_failing", map[string]any{
			"window": window,
			"error":  err.Error(),
			"markup": currentMarkup,
		})
	}

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}

		markup, fellBack := ssml.ValidateAndRepair(w.Text)
		if fellBack {
			warning := fmt.Sprintf("window %d markup unrepairable, synthesized as plain text", w.Index)
			stats.Warnings = append(stats.Warnings, warning)
			s.logger.Warn("markup repair fell back to plain text",
				slog.String("run_id", job.RunID),
				slog.Int("window", w.Index))
			s.events.RunEvent(ctx, job.RunID, "speech.markup_fallback", map[string]any{
				"window": w.Index,
				"markup": w.Text,
			})
		}

		currentMarkup = markup
		req := synth.Request{
			WindowIndex:  w.Index,
			Markup:       markup,
			Voice:        voice,
			SpeakingRate: s.cfg.Synth.SpeakingRate,
		}

		var clip synth.Clip
		wctx, wspan := s.tel.tracer.Start(ctx, "speech.window",
			trace.WithAttributes(attribute.Int("window", w.Index)))
		retries, callErr := exec.call(wctx, w.Index, func(c context.Context) error {
			var err error
			clip, err = s.backend.Synthesize(c, req)
			return err
		})
		wspan.End()

		stats.Retries += retries
		s.tel.retry(ctx, "speech", retries)

		if callErr != nil {
			if cerr := ctx.Err(); cerr != nil {
				cancelErr = cerr
				break
			}
			s.logger.Warn("synthesis window failed, skipping",
				slog.String("run_id", job.RunID),
				slog.Int("window", w.Index),
				slog.String("error", callErr.Error()))
			stats.Failures = append(stats.Failures, WindowFailure{
				Window:   w.Index,
				Attempts: s.cfg.MaxRetries + 1,
				Reason:   callErr.Error(),
				Payload:  markup,
			})
			s.events.RunEvent(ctx, job.RunID, "speech.window_failed", map[string]any{
				"window": w.Index,
				"error":  callErr.Error(),
				"markup": markup,
			})
			s.tel.window(ctx, "speech", false)
		} else {
			billed := ssml.BillableChars(markup)
			stats.BillableChars += billed
			s.tel.billed(ctx, billed)
			pieces = append(pieces, audio.Piece{
				Index:        w.Index,
				Clip:         clip,
				SectionStart: w.SectionStart,
				Title:        ssml.SectionTitle(w.Text),
			})
			s.tel.window(ctx, "speech", true)
		}

		stats.WindowsDone++
		s.emit(ctx, job.RunID, StateRunning, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	}

	if len(pieces) == 0 {
		stats.Elapsed = time.Since(start)
		if cancelErr != nil {
			s.emit(ctx, job.RunID, StateCanceled, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
			return nil, cancelErr
		}
		s.emit(ctx, job.RunID, StateFailed, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "all synthesis windows failed")
		return nil, fmt.Errorf("all %d synthesis windows failed", len(windows))
	}

	s.emit(ctx, job.RunID, StateAssembling, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	asm, err := audio.Assemble(pieces)
	if err != nil {
		return nil, fmt.Errorf("assemble audio: %w", err)
	}
	asm.EnsureOpeningChapter(job.Title)
	if s.cfg.Normalize {
		audio.PeakNormalize(asm.Samples)
	}

	stats.CostUSD = float64(stats.BillableChars) / 1_000_000 * s.cfg.PricePerMChars

	s.emit(ctx, job.RunID, StateFinalizing, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	err = audio.WriteFile(job.OutputPath, asm, audio.Metadata{
		Title:  job.Title,
		Artist: job.Author,
	})
	if err != nil {
		var warn *audio.FinalizeWarning
		if errors.As(err, &warn) {
			stats.Warnings = append(stats.Warnings, warn.Error())
		} else {
			s.emit(ctx, job.RunID, StateFailed, stats.WindowsTotal, stats.WindowsDone, stats.Retries, err.Error())
			return nil, fmt.Errorf("write output: %w", err)
		}
	}

	stats.Elapsed = time.Since(start)
	res := &SpeechResult{
		OutputPath: job.OutputPath,
		Duration:   asm.Duration(),
		Chapters:   asm.Chapters,
		Stats:      stats,
	}
	if cancelErr != nil {
		s.emit(ctx, job.RunID, StateCanceled, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
		s.logger.Info("synthesis canceled, partial output written",
			slog.String("run_id", job.RunID),
			slog.String("output", job.OutputPath),
			slog.Int("windows", stats.WindowsDone))
		return res, cancelErr
	}
	s.emit(ctx, job.RunID, StateDone, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	s.logger.Info("synthesis complete",
		slog.String("run_id", job.RunID),
		slog.String("output", job.OutputPath),
		slog.String("duration", audio.FormatDuration(asm.Duration())),
		slog.Int("billable_chars", stats.BillableChars),
		slog.Float64("cost_usd", stats.CostUSD),
		slog.Int("failed", len(stats.Failures)))
	return res, nil
}

func (s *Speaker) emit(ctx context.Context, runID string, state State, total, done, retries int, msg string) {
	p := Progress{
		RunID:        runID,
		Stage:        "speech",
		State:        state,
		WindowsTotal: total,
		WindowsDone:  done,
		Retries:      retries,
		Message:      msg,
		At:           time.Now(),
	}
	s.events.RunEvent(ctx, runID, "speech."+string(state), p)
}
