package watch

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowline-dev/flowline/internal/jsonfile"
	"github.com/flowline-dev/flowline/internal/model"
)

func TestWatcher_NotifiesOnStateChange(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pipeline.json")

	state := model.NewPipelineState("demo")
	if err := jsonfile.Write(statePath, state); err != nil {
		t.Fatalf("seed state failed: %v", err)
	}

	changes := make(chan *model.PipelineState, 4)
	w := New(statePath, func(s *model.PipelineState) { changes <- s },
		WithDebounce(50*time.Millisecond),
		WithLogger(log.New(io.Discard, "", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	state.Stories["s1"] = &model.PipelineStory{ID: "s1", Name: "s1", Status: model.StatusPending}
	if err := jsonfile.Write(statePath, state); err != nil {
		t.Fatalf("update state failed: %v", err)
	}

	select {
	case got := <-changes:
		if _, ok := got.Stories["s1"]; !ok {
			t.Errorf("notified state missing story s1: %+v", got.Stories)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification received")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pipeline.json")

	changes := make(chan *model.PipelineState, 4)
	w := New(statePath, func(s *model.PipelineState) { changes <- s },
		WithDebounce(30*time.Millisecond),
		WithLogger(log.New(io.Discard, "", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := jsonfile.Write(filepath.Join(dir, "other.json"), map[string]int{"n": 1}); err != nil {
		t.Fatalf("write other file failed: %v", err)
	}

	select {
	case <-changes:
		t.Fatal("unrelated file should not trigger a notification")
	case <-time.After(300 * time.Millisecond):
	}
}
