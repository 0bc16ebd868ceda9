// Package watch observes the shared state file and reports debounced
// change notifications, so a viewer can follow uncoordinated writers
// without polling.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/flowline-dev/flowline/internal/jsonfile"
	"github.com/flowline-dev/flowline/internal/model"
)

const DefaultDebounce = 500 * time.Millisecond

// OnChangeFunc receives the freshly loaded state after a debounced burst
// of writes.
type OnChangeFunc func(state *model.PipelineState)

type Watcher struct {
	statePath string
	debounce  time.Duration
	onChange  OnChangeFunc
	logger    *log.Logger

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

type Option func(*Watcher)

func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

func WithLogger(logger *log.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

func New(statePath string, onChange OnChangeFunc, opts ...Option) *Watcher {
	w := &Watcher{
		statePath: statePath,
		debounce:  DefaultDebounce,
		onChange:  onChange,
		logger:    log.New(os.Stderr, "", 0),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the state file's directory until ctx is cancelled. Writers
// replace the file by rename, so creates count as changes too.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(w.statePath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.statePath), err)
	}

	target := filepath.Base(w.statePath)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.debounceAndNotify()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("WARN", "watch_error error=%v", err)
		}
	}
}

func (w *Watcher) debounceAndNotify() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.notify)
}

func (w *Watcher) notify() {
	var state model.PipelineState
	if err := jsonfile.Read(w.statePath, &state); err != nil {
		// Mid-burst read of a vanished or half-replaced file; the next
		// event will retry.
		w.logf("WARN", "state_read_failed error=%v", err)
		return
	}
	w.onChange(&state)
}

func (w *Watcher) stopTimer() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

func (w *Watcher) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	w.logger.Printf("%s %s watch: %s", time.Now().Format(time.RFC3339), level, msg)
}
