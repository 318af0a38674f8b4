package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
)

// Job describes one full document-to-audio run.
type Job struct {
	RunID        string
	Document     string
	Instructions string
	Title        string
	Author       string
	OutputPath   string
	// RewriteOnly stops after the rewrite stage. SpeechOnly skips it and
	// treats Document as already-transformed markup.
	RewriteOnly bool
	SpeechOnly  bool
}

// Runner executes jobs in the background, one goroutine per run, with
// cooperative cancellation between service calls.
type Runner struct {
	rewriter *Rewriter
	speaker  *Speaker
	logger   *slog.Logger
}

func NewRunner(rewriter *Rewriter, speaker *Speaker, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		rewriter: rewriter,
		speaker:  speaker,
		logger:   logger.With(slog.String("component", "runner")),
	}
}

// Handle tracks a running job.
type Handle struct {
	runID    string
	cancel   context.CancelFunc
	progress chan Progress
	done     chan struct{}

	mu     sync.Mutex
	result *RunResult
	err    error
}

func (h *Handle) RunID() string { return h.runID }

// Progress delivers snapshots while the run is live. The channel closes when
// the run ends; slow consumers miss snapshots rather than stalling the run.
func (h *Handle) Progress() <-chan Progress { return h.progress }

// Cancel requests a stop. The run ends at the next window boundary or
// in-flight call.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the run finishes and returns its outcome.
func (h *Handle) Wait() (*RunResult, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

type handleSink struct {
	h    *Handle
	next EventSink
}

func (s handleSink) RunEvent(ctx context.Context, runID, kind string, payload any) {
	if p, ok := payload.(Progress); ok {
		select {
		case s.h.progress <- p:
		default:
		}
	}
	if s.next != nil {
		s.next.RunEvent(ctx, runID, kind, payload)
	}
}

// Start launches a job. Events flow to the handle's progress channel and to
// the sink the stages were built with.
func (r *Runner) Start(ctx context.Context, job Job) *Handle {
	if job.RunID == "" {
		job.RunID = newRunID()
	}
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		runID:    job.RunID,
		cancel:   cancel,
		progress: make(chan Progress, 64),
		done:     make(chan struct{}),
	}

	rewriter := *r.rewriter
	rewriter.events = handleSink{h: h, next: r.rewriter.events}
	speaker := *r.speaker
	speaker.events = handleSink{h: h, next: r.speaker.events}

	go func() {
		defer close(h.done)
		defer close(h.progress)
		defer cancel()

		result := &RunResult{RunID: job.RunID}

		markup := job.Document
		if !job.SpeechOnly {
			rewrite, err := rewriter.Run(runCtx, job.RunID, job.Document, job.Instructions)
			result.Rewrite = rewrite
			if err != nil {
				r.finish(h, result, err)
				return
			}
			if job.RewriteOnly {
				r.finish(h, result, nil)
				return
			}
			markup = rewrite.Text
		}

		speech, err := speaker.Run(runCtx, SpeechJob{
			RunID:      job.RunID,
			Markup:     markup,
			Title:      job.Title,
			Author:     job.Author,
			OutputPath: job.OutputPath,
		})
		result.Speech = speech
		r.finish(h, result, err)
	}()
	return h
}

func (r *Runner) finish(h *Handle, result *RunResult, err error) {
	h.mu.Lock()
	h.result = result
	h.err = err
	h.mu.Unlock()
	if err != nil {
		r.logger.Error("run finished with error",
			slog.String("run_id", result.RunID),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Info("run finished", slog.String("run_id", result.RunID))
}

func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "run-unknown"
	}
	return "run-" + hex.EncodeToString(b[:])
}
