// Package synth abstracts the speech synthesis service. Backends return
// decoded PCM so the assembly stage can concatenate clips without caring
// where they came from.
package synth

import (
	"context"
	"fmt"

	"github.com/lectorlabs/lector-core/internal/config"
)

// DefaultMaxPayloadBytes is the request ceiling of the synthesis provider
// when config does not say otherwise. The planner keeps windows under the
// configured budget, which sits below this; the backend check is the last
// line before the wire.
const DefaultMaxPayloadBytes = 5000

// Request is one markup window to synthesize.
type Request struct {
	WindowIndex  int
	Markup       string
	Voice        string
	SpeakingRate float64
}

// Clip is a decoded synthesis result: interleaved signed 16-bit samples.
type Clip struct {
	Samples    []int
	SampleRate int
	Channels   int
}

// Duration in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Synthesizer is a pluggable synthesis backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Clip, error)
}

// ServiceError marks a failure of the external synthesis call. Like rewrite
// failures these are retried and then recorded per window rather than
// aborting the run.
type ServiceError struct {
	Window int
	Err    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("synthesis service failed on window %d: %v", e.Window, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// New builds a backend from config.
func New(cfg config.Synth) (Synthesizer, error) {
	limit := cfg.MaxPayloadBytes
	if limit <= 0 {
		limit = DefaultMaxPayloadBytes
	}
	switch cfg.Mode {
	case "", "mock":
		return NewMock(cfg.SampleRate, cfg.Channels, limit), nil
	case "exec":
		return NewExec(cfg.Command, cfg.SampleRate, cfg.Channels, limit)
	default:
		return nil, fmt.Errorf("unknown synth mode %q", cfg.Mode)
	}
}

func checkPayload(req Request, limit int) error {
	if len(req.Markup) > limit {
		return &ServiceError{
			Window: req.WindowIndex,
			Err:    fmt.Errorf("markup payload %d bytes exceeds provider ceiling %d", len(req.Markup), limit),
		}
	}
	return nil
}
