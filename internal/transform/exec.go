package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

type execTransformer struct {
	cmd []string
	mu  sync.Mutex
}

type execPayload struct {
	Window      int     `json:"window"`
	Text        string  `json:"text"`
	Context     string  `json:"context,omitempty"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execResponse struct {
	Text             string `json:"text"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// NewExec wraps an external command. The window goes to it as JSON on stdin
// and the transformed text comes back as JSON on stdout, which makes any
// provider CLI usable without linking its SDK.
func NewExec(command string) (Transformer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transform command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transform command empty")
	}
	return &execTransformer{cmd: args}, nil
}

func (t *execTransformer) Transform(ctx context.Context, req Request) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	input, err := json.Marshal(execPayload{
		Window:      req.WindowIndex,
		Text:        req.Text,
		Context:     req.Context,
		System:      req.Instructions,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Result{}, err
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, t.cmd[0], t.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("transform command failed: %w", err)}
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("decode transform response: %w", err)}
	}
	text := CleanResponse(resp.Text)
	if text == "" {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("transform command returned empty output")}
	}
	return Result{
		Text:             text,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		Latency:          time.Since(start),
	}, nil
}
