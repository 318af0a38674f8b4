package transform

import (
	"context"
	"strings"
	"time"
)

type mockTransformer struct{}

// NewMock returns a deterministic backend for tests and dry runs. It passes
// the window text through with light whitespace normalization, which keeps
// reassembly and continuity behavior observable without a live service.
func NewMock() Transformer { return &mockTransformer{} }

func (m *mockTransformer) Transform(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	lines := strings.Split(req.Text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return Result{
		Text:    strings.TrimSpace(strings.Join(lines, "\n")),
		Latency: 10 * time.Millisecond,
	}, nil
}
