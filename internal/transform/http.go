package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type httpTransformer struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTP targets an Ollama-compatible /api/generate endpoint with streamed
// responses.
func NewHTTP(endpoint, model string) Transformer {
	return &httpTransformer{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client:   http.DefaultClient,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateStreamResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
}

func (t *httpTransformer) Transform(ctx context.Context, req Request) (Result, error) {
	prompt := req.Text
	if req.Context != "" {
		prompt = fmt.Sprintf("Previous output for continuity (do not repeat):\n%s\n\nContinue with:\n%s", req.Context, req.Text)
	}
	payload := generateRequest{
		Model:  t.model,
		Prompt: prompt,
		System: req.Instructions,
		Stream: true,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("rewrite endpoint returned %s", resp.Status)}
	}

	var (
		accumulated      strings.Builder
		promptTokens     int
		completionTokens int
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("decode stream: %w", err)}
		}
		accumulated.WriteString(chunk.Response)
		if chunk.EvalCount > 0 {
			completionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			promptTokens = chunk.PromptEvalCount
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: err}
	}

	text := CleanResponse(accumulated.String())
	if text == "" {
		return Result{}, &ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("rewrite endpoint returned empty output")}
	}
	return Result{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Latency:          time.Since(start),
	}, nil
}
