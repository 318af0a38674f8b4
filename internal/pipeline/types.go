// Package pipeline drives the two processing stages: document rewrite and
// speech synthesis. Both plan bounded windows over their input, call an
// unreliable external service per window with retries, and reassemble
// results in window order.
package pipeline

import (
	"context"
	"time"

	"github.com/lectorlabs/lector-core/internal/audio"
)

// State tracks a run through its lifecycle.
type State string

const (
	StatePlanning   State = "planning"
	StateRunning    State = "running"
	StateAssembling State = "assembling"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

// Progress is a point-in-time snapshot emitted as a run advances.
// WindowsDone never decreases within a run.
type Progress struct {
	RunID        string    `json:"run_id"`
	Stage        string    `json:"stage"`
	State        State     `json:"state"`
	WindowsTotal int       `json:"windows_total"`
	WindowsDone  int       `json:"windows_done"`
	Retries      int       `json:"retries"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// Fraction reports window completion as a value in [0, 1]. Terminal states
// past the window loop report 1 even when some windows were skipped.
func (p Progress) Fraction() float64 {
	switch p.State {
	case StateAssembling, StateFinalizing, StateDone:
		return 1
	}
	if p.WindowsTotal <= 0 {
		return 0
	}
	f := float64(p.WindowsDone) / float64(p.WindowsTotal)
	if f > 1 {
		return 1
	}
	return f
}

// WindowFailure records a window whose service call failed after all
// retries. The run continues; failures surface in the final stats.
type WindowFailure struct {
	Window   int    `json:"window"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
	Payload  string `json:"payload,omitempty"`
}

// Stats accumulates per-stage accounting.
type Stats struct {
	WindowsTotal     int             `json:"windows_total"`
	WindowsDone      int             `json:"windows_done"`
	Retries          int             `json:"retries"`
	Failures         []WindowFailure `json:"failures,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	PromptTokens     int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int             `json:"completion_tokens,omitempty"`
	BillableChars    int             `json:"billable_chars,omitempty"`
	CostUSD          float64         `json:"cost_usd,omitempty"`
	Elapsed          time.Duration   `json:"elapsed"`
}

// RewriteResult is the output of the rewrite stage.
type RewriteResult struct {
	Text  string
	Stats Stats
}

// SpeechResult is the output of the synthesis stage.
type SpeechResult struct {
	OutputPath string
	Duration   time.Duration
	Chapters   []audio.Chapter
	Stats      Stats
}

// RunResult is the combined outcome of a full document-to-audio run.
type RunResult struct {
	RunID   string
	Rewrite *RewriteResult
	Speech  *SpeechResult
}

// EventSink receives run lifecycle events. The journal store and the bus
// publisher both implement it; a nil sink is valid.
type EventSink interface {
	RunEvent(ctx context.Context, runID, kind string, payload any)
}

type nopSink struct{}

func (nopSink) RunEvent(context.Context, string, string, any) {}

func sinkOrNop(s EventSink) EventSink {
	if s == nil {
		return nopSink{}
	}
	return s
}
