package runstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/lectorlabs/lector-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	cfg := config.RunStoreConfig{RetentionMode: "ephemeral"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// Writes are silent no-ops without a database.
	s.RunEvent(context.Background(), "run-1", "rewrite.done", map[string]any{"ok": true})
	events, err := s.ListRunEvents(context.Background(), "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if events != nil {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RunStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	runID := "run-123"
	if err := s.BeginRun(context.Background(), runID, "My Paper", "/tmp/out.wav"); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := s.Append(context.Background(), RunEvent{RunID: runID, Kind: "rewrite.planning", Payload: []byte(`{"windows":3}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := s.ListRunEvents(context.Background(), runID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != "rewrite.planning" {
		t.Fatalf("unexpected kind: %s", events[0].Kind)
	}
}

func TestSinkCreatesRunRow(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RunStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	// No BeginRun first; the sink has to satisfy the foreign key itself.
	s.RunEvent(context.Background(), "run-lazy", "speech.markup_fallback", map[string]any{
		"window": 2,
		"markup": "<speak>broken",
	})

	evt, err := s.FirstEventOfKind(context.Background(), "run-lazy", "speech.markup_fallback")
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if evt == nil {
		t.Fatalf("expected stored event")
	}
	if len(evt.Payload) == 0 {
		t.Fatalf("expected payload")
	}
}

func TestFirstEventOfKindReturnsEarliest(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RunStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		evt := RunEvent{
			RunID:     "run-x",
			Kind:      "speech.markup_fallback",
			Payload:   []byte{byte('a' + i)},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Append(context.Background(), evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	evt, err := s.FirstEventOfKind(context.Background(), "run-x", "speech.markup_fallback")
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if string(evt.Payload) != "a" {
		t.Fatalf("expected earliest payload, got %s", evt.Payload)
	}

	missing, err := s.FirstEventOfKind(context.Background(), "run-x", "no.such.kind")
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown kind")
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.RunStoreConfig{Path: filepath.Join(tmp, "runs.db"), RetentionMode: "persistent", RetentionDays: 1, MaxRuns: 1}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open run store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginRun(context.Background(), "old-run", "Old", ""); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := s.Append(context.Background(), RunEvent{RunID: "old-run", Kind: "rewrite.done"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginRun(context.Background(), "new-run", "New", ""); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := s.ListRunEvents(context.Background(), "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run pruned")
	}
}
