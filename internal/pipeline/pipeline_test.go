package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectorlabs/lector-core/internal/config"
	"github.com/lectorlabs/lector-core/internal/synth"
	"github.com/lectorlabs/lector-core/internal/transform"
)

// scriptedTransformer fails a configured number of times per window before
// succeeding, or fails forever for windows in alwaysFail.
type scriptedTransformer struct {
	mu         sync.Mutex
	failFirst  int
	alwaysFail map[int]bool
	calls      map[int]int
	delay      time.Duration
}

func (s *scriptedTransformer) Transform(ctx context.Context, req transform.Request) (transform.Result, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[int]int)
	}
	s.calls[req.WindowIndex]++
	n := s.calls[req.WindowIndex]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return transform.Result{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.alwaysFail[req.WindowIndex] || n <= s.failFirst {
		return transform.Result{}, &transform.ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("scripted failure %d", n)}
	}
	return transform.Result{Text: fmt.Sprintf("[w%d] %s", req.WindowIndex, req.Text)}, nil
}

func rewriteConfig() config.RewriteConfig {
	return config.RewriteConfig{
		MaxWindowChars: 300,
		MinWindowChars: 50,
		ContextChars:   80,
		MaxRetries:     3,
		BaseRetryDelay: 1,
		InterCallDelay: 0,
	}
}

func multiWindowDoc() string {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "Paragraph %d. %s\n\n", i, strings.Repeat("steady prose flows along ", 6))
	}
	return strings.TrimSpace(b.String())
}

func TestRewriteCountsRetries(t *testing.T) {
	backend := &scriptedTransformer{failFirst: 2}
	rw := NewRewriter(rewriteConfig(), backend, nil, nil)

	res, err := rw.Run(context.Background(), "r1", multiWindowDoc(), "")
	require.NoError(t, err)
	require.Greater(t, res.Stats.WindowsTotal, 1)
	assert.Equal(t, res.Stats.WindowsTotal, res.Stats.WindowsDone)
	// Two failed attempts per window before the success.
	assert.Equal(t, 2*res.Stats.WindowsTotal, res.Stats.Retries)
	assert.Empty(t, res.Stats.Failures)
}

func TestRewriteOmitsFailedWindow(t *testing.T) {
	backend := &scriptedTransformer{alwaysFail: map[int]bool{1: true}}
	rw := NewRewriter(rewriteConfig(), backend, nil, nil)

	res, err := rw.Run(context.Background(), "r2", multiWindowDoc(), "")
	require.NoError(t, err)
	require.Len(t, res.Stats.Failures, 1)
	assert.Equal(t, 1, res.Stats.Failures[0].Window)
	assert.Equal(t, 4, res.Stats.Failures[0].Attempts)

	// Surviving windows carry their marker in order; the failed window's
	// source does not reappear untransformed.
	assert.Contains(t, res.Text, "[w0]")
	assert.NotContains(t, res.Text, "[w1]")
	assert.NotContains(t, res.Text, "Paragraph 1.")
	assert.Contains(t, res.Text, "[w2]")
	assert.Less(t, strings.Index(res.Text, "[w0]"), strings.Index(res.Text, "[w2]"))
}

func TestRewriteFailsWhenNothingSucceeds(t *testing.T) {
	backend := &scriptedTransformer{failFirst: 1 << 20}
	rw := NewRewriter(rewriteConfig(), backend, nil, nil)

	res, err := rw.Run(context.Background(), "r2f", multiWindowDoc(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no window succeeded")
	require.NotNil(t, res)
	assert.Empty(t, res.Text)
	assert.Len(t, res.Stats.Failures, res.Stats.WindowsTotal)
}

func TestRewriteContinuityContext(t *testing.T) {
	var mu sync.Mutex
	contexts := make(map[int]string)
	backend := transformFunc(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		mu.Lock()
		contexts[req.WindowIndex] = req.Context
		mu.Unlock()
		return transform.Result{Text: fmt.Sprintf("output-%d", req.WindowIndex)}, nil
	})
	rw := NewRewriter(rewriteConfig(), backend, nil, nil)

	res, err := rw.Run(context.Background(), "r3", multiWindowDoc(), "")
	require.NoError(t, err)
	require.Greater(t, res.Stats.WindowsTotal, 2)

	assert.Empty(t, contexts[0])
	for i := 1; i < res.Stats.WindowsTotal; i++ {
		assert.Equal(t, fmt.Sprintf("output-%d", i-1), contexts[i])
	}
}

type transformFunc func(context.Context, transform.Request) (transform.Result, error)

func (f transformFunc) Transform(ctx context.Context, req transform.Request) (transform.Result, error) {
	return f(ctx, req)
}

func TestRewriteCancellation(t *testing.T) {
	backend := &scriptedTransformer{delay: 30 * time.Millisecond}
	rw := NewRewriter(rewriteConfig(), backend, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(45 * time.Millisecond)
		cancel()
	}()
	res, err := rw.Run(ctx, "r4", multiWindowDoc(), "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Less(t, res.Stats.WindowsDone, res.Stats.WindowsTotal)
}

func speechConfig() config.SpeechConfig {
	return config.SpeechConfig{
		MaxWindowBytes: 1200,
		MinWindowBytes: 100,
		MaxRetries:     1,
		BaseRetryDelay: 1,
		RequestsPerMin: 0,
		Normalize:      true,
		PricePerMChars: 30,
		Synth:          config.Synth{Mode: "mock", SampleRate: 22050, Channels: 1},
	}
}

func speechMarkup() string {
	var b strings.Builder
	b.WriteString("<speak>\n<prosody rate=\"95%\">Introduction</prosody>\n")
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "<p><s>Passage %d. %s</s></p>\n", i, strings.Repeat("spoken words carry on ", 30))
	}
	b.WriteString("</speak>")
	return b.String()
}

func TestSpeechRunProducesAudioFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "episode.wav")
	backend, err := synth.New(speechConfig().Synth)
	require.NoError(t, err)
	sp := NewSpeaker(speechConfig(), backend, nil, nil)

	res, err := sp.Run(context.Background(), SpeechJob{
		RunID:      "s1",
		Markup:     speechMarkup(),
		Title:      "A Paper",
		Author:     "The Lab",
		OutputPath: out,
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.OutputPath)
	assert.Greater(t, res.Duration, time.Duration(0))
	assert.Greater(t, res.Stats.BillableChars, 0)
	assert.InDelta(t, float64(res.Stats.BillableChars)/1_000_000*30, res.Stats.CostUSD, 1e-9)

	require.NotEmpty(t, res.Chapters)
	assert.Equal(t, time.Duration(0), res.Chapters[0].Start)

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(44))
}

// failingSynth rejects given windows permanently, or all of them.
type failingSynth struct {
	inner   synth.Synthesizer
	fail    map[int]bool
	failAll bool
}

func (f *failingSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Clip, error) {
	if f.failAll || f.fail[req.WindowIndex] {
		return synth.Clip{}, &synth.ServiceError{Window: req.WindowIndex, Err: fmt.Errorf("provider unavailable")}
	}
	return f.inner.Synthesize(ctx, req)
}

type synthFunc func(context.Context, synth.Request) (synth.Clip, error)

func (f synthFunc) Synthesize(ctx context.Context, req synth.Request) (synth.Clip, error) {
	return f(ctx, req)
}

// recordingSink captures every run event for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	kind    string
	payload any
}

func (r *recordingSink) RunEvent(_ context.Context, _ string, kind string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, payload})
}

func (r *recordingSink) ofKind(kind string) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestSpeechSkipsFailedWindows(t *testing.T) {
	out := filepath.Join(t.TempDir(), "partial.wav")
	backend := &failingSynth{inner: synth.NewMock(22050, 1, 0), fail: map[int]bool{1: true}}
	sp := NewSpeaker(speechConfig(), backend, nil, nil)

	res, err := sp.Run(context.Background(), SpeechJob{
		RunID:      "s2",
		Markup:     speechMarkup(),
		Title:      "A Paper",
		OutputPath: out,
	})
	require.NoError(t, err)
	require.Len(t, res.Stats.Failures, 1)
	assert.Equal(t, 1, res.Stats.Failures[0].Window)
	assert.NotEmpty(t, res.Stats.Failures[0].Payload)
	assert.Equal(t, res.Stats.WindowsTotal, res.Stats.WindowsDone)

	_, err = os.Stat(out)
	assert.NoError(t, err)
}

func TestSpeechFailsWhenNothingSucceeds(t *testing.T) {
	backend := &failingSynth{inner: synth.NewMock(22050, 1, 0), failAll: true}
	sp := NewSpeaker(speechConfig(), backend, nil, nil)

	_, err := sp.Run(context.Background(), SpeechJob{
		RunID:      "s3",
		Markup:     speechMarkup(),
		OutputPath: filepath.Join(t.TempDir(), "none.wav"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestSpeechCancelWritesPartialAudio(t *testing.T) {
	out := filepath.Join(t.TempDir(), "partial-cancel.wav")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inner := synth.NewMock(22050, 1, 0)
	backend := synthFunc(func(c context.Context, req synth.Request) (synth.Clip, error) {
		clip, err := inner.Synthesize(c, req)
		if req.WindowIndex == 0 {
			cancel()
		}
		return clip, err
	})
	sp := NewSpeaker(speechConfig(), backend, nil, nil)

	res, err := sp.Run(ctx, SpeechJob{
		RunID:      "s4",
		Markup:     speechMarkup(),
		Title:      "Partial",
		OutputPath: out,
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Greater(t, res.Duration, time.Duration(0))
	assert.Less(t, res.Stats.WindowsDone, res.Stats.WindowsTotal)

	info, statErr := os.Stat(out)
	require.NoError(t, statErr)
	assert.Greater(t, info.Size(), int64(44))
}

func TestSpeechCapturesFailingMarkupBeforeRetry(t *testing.T) {
	sink := &recordingSink{}
	backend := &failingSynth{inner: synth.NewMock(22050, 1, 0), fail: map[int]bool{1: true}}
	sp := NewSpeaker(speechConfig(), backend, nil, sink)

	_, err := sp.Run(context.Background(), SpeechJob{
		RunID:      "s5",
		Markup:     speechMarkup(),
		OutputPath: filepath.Join(t.TempDir(), "diag.wav"),
	})
	require.NoError(t, err)

	// The failing window's markup is journaled on its first failed
	// attempt, once, not only after retries run out.
	failing := sink.ofKind("speech.window_failing")
	require.Len(t, failing, 1)
	payload, ok := failing[0].payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, payload["window"])
	assert.Contains(t, payload["markup"], "<speak>")
	require.NotEmpty(t, sink.ofKind("speech.window_failed"))
}

func TestRunnerFullRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "full.wav")
	rw := NewRewriter(rewriteConfig(), transformFunc(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		return transform.Result{Text: "<speak>\n<p><s>" + strings.TrimSpace(req.Text) + "</s></p>\n</speak>"}, nil
	}), nil, nil)
	sp := NewSpeaker(speechConfig(), synth.NewMock(22050, 1, 0), nil, nil)
	runner := NewRunner(rw, sp, nil)

	h := runner.Start(context.Background(), Job{
		Document:   multiWindowDoc(),
		Title:      "Full Run",
		OutputPath: out,
	})

	var snapshots []Progress
	for p := range h.Progress() {
		snapshots = append(snapshots, p)
	}
	res, err := h.Wait()
	require.NoError(t, err)
	require.NotNil(t, res.Rewrite)
	require.NotNil(t, res.Speech)
	assert.NotEmpty(t, res.RunID)

	_, err = os.Stat(out)
	require.NoError(t, err)

	// Done counts never go backwards within a stage, fractions stay in
	// range, and the write phase reports as finalizing.
	lastDone := map[string]int{}
	states := map[State]bool{}
	for _, p := range snapshots {
		assert.GreaterOrEqual(t, p.WindowsDone, lastDone[p.Stage])
		lastDone[p.Stage] = p.WindowsDone
		f := p.Fraction()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.LessOrEqual(t, f, 1.0)
		states[p.State] = true
	}
	assert.True(t, states[StateFinalizing])
	assert.True(t, states[StateDone])
}

func TestProgressFraction(t *testing.T) {
	assert.Zero(t, Progress{State: StatePlanning}.Fraction())
	assert.InDelta(t, 0.5, Progress{State: StateRunning, WindowsTotal: 6, WindowsDone: 3}.Fraction(), 1e-9)
	assert.Equal(t, 1.0, Progress{State: StateAssembling, WindowsTotal: 6, WindowsDone: 5}.Fraction())
	assert.Equal(t, 1.0, Progress{State: StateFinalizing, WindowsTotal: 6, WindowsDone: 5}.Fraction())
	assert.Equal(t, 1.0, Progress{State: StateDone, WindowsTotal: 6, WindowsDone: 6}.Fraction())
}

func TestRunnerCancel(t *testing.T) {
	rw := NewRewriter(rewriteConfig(), &scriptedTransformer{delay: 40 * time.Millisecond}, nil, nil)
	sp := NewSpeaker(speechConfig(), synth.NewMock(22050, 1, 0), nil, nil)
	runner := NewRunner(rw, sp, nil)

	h := runner.Start(context.Background(), Job{
		Document:   multiWindowDoc(),
		OutputPath: filepath.Join(t.TempDir(), "canceled.wav"),
	})
	time.Sleep(60 * time.Millisecond)
	h.Cancel()

	for range h.Progress() {
	}
	_, err := h.Wait()
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunnerRewriteOnly(t *testing.T) {
	rw := NewRewriter(rewriteConfig(), NewMockNamed(), nil, nil)
	sp := NewSpeaker(speechConfig(), synth.NewMock(22050, 1, 0), nil, nil)
	runner := NewRunner(rw, sp, nil)

	h := runner.Start(context.Background(), Job{Document: multiWindowDoc(), RewriteOnly: true})
	for range h.Progress() {
	}
	res, err := h.Wait()
	require.NoError(t, err)
	assert.NotNil(t, res.Rewrite)
	assert.Nil(t, res.Speech)
}

// NewMockNamed keeps the helper local to tests.
func NewMockNamed() transform.Transformer {
	return transformFunc(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		return transform.Result{Text: strings.TrimSpace(req.Text)}, nil
	})
}
