package transform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectorlabs/lector-core/internal/config"
)

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "plain text", CleanResponse("plain text\n"))
	assert.Equal(t, "fenced body", CleanResponse("```\nfenced body\n```"))
	assert.Equal(t, "# Title\n\nBody.", CleanResponse("```markdown\n# Title\n\nBody.\n```"))
	// Inner fences survive; only a whole-answer wrapper is stripped.
	mixed := "intro\n```\ncode\n```\noutro"
	assert.Equal(t, mixed, CleanResponse(mixed))
}

func TestMockTransformer(t *testing.T) {
	tr := NewMock()
	res, err := tr.Transform(context.Background(), Request{Text: "  hello  \nworld  \n"})
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", res.Text)
}

func TestMockTransformerHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMock().Transform(ctx, Request{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSelectsBackend(t *testing.T) {
	tr, err := New(config.Transform{Mode: "mock"})
	require.NoError(t, err)
	assert.NotNil(t, tr)

	tr, err = New(config.Transform{})
	require.NoError(t, err)
	assert.NotNil(t, tr)

	_, err = New(config.Transform{Mode: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestHTTPTransformerStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		fmt.Fprintln(w, `{"response":"Rewritten ","done":false}`)
		fmt.Fprintln(w, `{"response":"text.","done":true,"eval_count":7,"prompt_eval_count":21}`)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, "test-model")
	res, err := tr.Transform(context.Background(), Request{WindowIndex: 3, Text: "Original text."})
	require.NoError(t, err)
	assert.Equal(t, "Rewritten text.", res.Text)
	assert.Equal(t, 7, res.CompletionTokens)
	assert.Equal(t, 21, res.PromptTokens)
}

func TestHTTPTransformerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "test-model").Transform(context.Background(), Request{WindowIndex: 2, Text: "x"})
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, 2, svcErr.Window)
}

func TestNewExecRejectsBadCommand(t *testing.T) {
	_, err := NewExec("")
	assert.Error(t, err)
	_, err = NewExec(`unterminated "quote`)
	assert.Error(t, err)
}
