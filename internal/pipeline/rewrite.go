package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lectorlabs/lector-core/internal/chunk"
	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/spoken"
	"github.com/lectorlabs/lector-core/internal/ssml"
	"github.com/lectorlabs/lector-core/internal/transform"
)

// Rewriter runs the document rewrite stage: plan character-measured windows,
// transform each through the external service with a continuity prefix, and
// join the results in window order.
type Rewriter struct {
	cfg     config.RewriteConfig
	backend transform.Transformer
	logger  *slog.Logger
	events  EventSink
	tel     *telemetry
}

func NewRewriter(cfg config.RewriteConfig, backend transform.Transformer, logger *slog.Logger, events EventSink) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(slog.String("component", "rewrite")),
		events:  sinkOrNop(events),
		tel:     newTelemetry(),
	}
}

// Run transforms a whole document. Planning failures abort; service
// failures on individual windows are retried, then recorded, and the
// window is omitted from the joined output. A run with zero successful
// windows fails.
func (r *Rewriter) Run(ctx context.Context, runID, document, instructions string) (*RewriteResult, error) {
	start := time.Now()
	ctx, span := r.tel.tracer.Start(ctx, "rewrite.run",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	r.emit(ctx, runID, StatePlanning, 0, 0, 0, "")
	windows, err := chunk.Plan(document, r.cfg.MaxWindowChars, r.cfg.MinWindowChars)
	if err != nil {
		r.emit(ctx, runID, StateFailed, 0, 0, 0, err.Error())
		return nil, fmt.Errorf("plan rewrite windows: %w", err)
	}
	if len(windows) == 0 {
		return &RewriteResult{Stats: Stats{Elapsed: time.Since(start)}}, nil
	}

	r.logger.Info("rewrite planned",
		slog.String("run_id", runID),
		slog.Int("windows", len(windows)),
		slog.Int("document_chars", len(document)))

	exec := newExecutor(r.cfg.MaxRetries,
		time.Duration(r.cfg.BaseRetryDelay)*time.Millisecond,
		time.Duration(r.cfg.InterCallDelay)*time.Millisecond,
		0)

	stats := Stats{WindowsTotal: len(windows)}
	parts := make([]string, len(windows))
	prevOutput := ""

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			r.emit(ctx, runID, StateCanceled, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
			return &RewriteResult{Text: r.join(parts[:w.Index]), Stats: stats}, err
		}

		req := transform.Request{
			WindowIndex:  w.Index,
			Text:         w.Text,
			Context:      tail(prevOutput, r.cfg.ContextChars),
			Instructions: instructions,
			MaxTokens:    r.cfg.Transform.MaxTokens,
			Temperature:  r.cfg.Transform.Temperature,
		}

		var res transform.Result
		wctx, wspan := r.tel.tracer.Start(ctx, "rewrite.window",
			trace.WithAttributes(attribute.Int("window", w.Index)))
		retries, callErr := exec.call(wctx, w.Index, func(c context.Context) error {
			var err error
			res, err = r.backend.Transform(c, req)
			return err
		})
		wspan.End()

		stats.Retries += retries
		r.tel.retry(ctx, "rewrite", retries)

		if callErr != nil {
			if cerr := ctx.Err(); cerr != nil {
				stats.Elapsed = time.Since(start)
				r.emit(ctx, runID, StateCanceled, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
				return &RewriteResult{Text: r.join(parts[:w.Index]), Stats: stats}, cerr
			}
			r.logger.Warn("rewrite window failed, omitting from output",
				slog.String("run_id", runID),
				slog.Int("window", w.Index),
				slog.String("error", callErr.Error()))
			stats.Failures = append(stats.Failures, WindowFailure{
				Window:   w.Index,
				Attempts: r.cfg.MaxRetries + 1,
				Reason:   callErr.Error(),
			})
			r.events.RunEvent(ctx, runID, "rewrite.window_failed", map[string]any{
				"window": w.Index,
				"error":  callErr.Error(),
			})
			r.tel.window(ctx, "rewrite", false)
		} else {
			text := transform.CleanResponse(res.Text)
			if r.cfg.SpokenOptimizer && !ssml.IsSSML(text) {
				text = spoken.Optimize(text)
			}
			parts[w.Index] = text
			prevOutput = text
			stats.PromptTokens += res.PromptTokens
			stats.CompletionTokens += res.CompletionTokens
			r.tel.window(ctx, "rewrite", true)
		}

		stats.WindowsDone++
		r.emit(ctx, runID, StateRunning, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	}

	stats.Elapsed = time.Since(start)
	if len(stats.Failures) == len(windows) {
		r.emit(ctx, runID, StateFailed, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "all windows failed")
		return &RewriteResult{Stats: stats}, fmt.Errorf("rewrite failed: no window succeeded after %d attempts each", r.cfg.MaxRetries+1)
	}
	out := &RewriteResult{Text: r.join(parts), Stats: stats}
	r.emit(ctx, runID, StateDone, stats.WindowsTotal, stats.WindowsDone, stats.Retries, "")
	r.logger.Info("rewrite complete",
		slog.String("run_id", runID),
		slog.Int("windows", stats.WindowsDone),
		slog.Int("failed", len(stats.Failures)),
		slog.Duration("elapsed", stats.Elapsed))
	return out, nil
}

// join stitches transformed windows back together in order. When every part
// is a markup document the parts merge under a single root; otherwise plain
// paragraph joining applies.
func (r *Rewriter) join(parts []string) string {
	var present []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return ""
	}
	allMarkup := true
	for _, p := range present {
		if !ssml.IsSSML(p) {
			allMarkup = false
			break
		}
	}
	if allMarkup {
		return ssml.MergeSpeak(present)
	}
	return strings.Join(present, "\n\n")
}

func (r *Rewriter) emit(ctx context.Context, runID string, state State, total, done, retries int, msg string) {
	p := Progress{
		RunID:        runID,
		Stage:        "rewrite",
		State:        state,
		WindowsTotal: total,
		WindowsDone:  done,
		Retries:      retries,
		Message:      msg,
		At:           time.Now(),
	}
	r.events.RunEvent(ctx, runID, "rewrite."+string(state), p)
}

// tail returns the last n characters of s, cut at a rune boundary.
func tail(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
