// Package transform abstracts the rewrite service behind a small interface
// with mock, HTTP, and exec backends, so the pipeline never talks to a
// provider directly.
package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lectorlabs/lector-core/internal/config"
)

// Request carries one window of source text to the rewrite service. Context
// is the tail of the previously transformed output and is advisory only; it
// must not be echoed back in the result.
type Request struct {
	WindowIndex int
	Text        string
	Context     string
	Instructions string
	MaxTokens   int
	Temperature float64
}

// Result is the transformed window.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
}

// Transformer is a pluggable rewrite backend.
type Transformer interface {
	Transform(ctx context.Context, req Request) (Result, error)
}

// ServiceError marks a failure of the external rewrite call. Service
// failures are retried and then recorded against the window; they never
// abort the run.
type ServiceError struct {
	Window int
	Err    error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("rewrite service failed on window %d: %v", e.Window, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// New builds a backend from config.
func New(cfg config.Transform) (Transformer, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(), nil
	case "http":
		return NewHTTP(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExec(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown transform mode %q", cfg.Mode)
	}
}

var codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```\\s*$")

// CleanResponse strips a markdown code fence some providers wrap their whole
// answer in.
func CleanResponse(text string) string {
	trimmed := strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}
