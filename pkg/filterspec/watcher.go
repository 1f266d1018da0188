package filterspec

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/filterstack/engine/pkg/filterstack"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
)

// Watcher reloads a filter-stack specification file on change and publishes
// a freshly-built filterstack.Stack through Current. It never blocks a
// reader: Current always returns the most recently successfully-parsed
// stack. A caller that already holds a stack keeps using it; only later
// calls to Current see the reloaded one.
//
// A write that fails to parse (a SpecError or DependencyError) is logged and
// discarded — the previously published stack remains current.
type Watcher struct {
	path   string
	logger *logging.Logger

	current atomic.Pointer[filterstack.Stack]

	watcher *fsnotify.Watcher
	errCh   chan error

	debounceMu sync.Mutex
	debounce   *time.Timer
	debounceFor time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher performs an initial parse of path and starts watching it for
// writes. The initial parse error, if any, is returned immediately; once
// running, subsequent parse errors are logged rather than propagated.
func NewWatcher(path string, logger *logging.Logger) (*Watcher, error) {
	stack, err := loadStack(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filterspec: create watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("filterspec: watch %s: %w", path, err)
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:        path,
		logger:      logger.WithComponent("filterspec-watcher"),
		watcher:     fsw,
		errCh:       make(chan error, 4),
		debounceFor: 200 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	w.current.Store(stack)

	go w.run()
	return w, nil
}

// Current returns the most recently successfully-parsed stack.
func (w *Watcher) Current() *filterstack.Stack {
	return w.current.Load()
}

// Errors exposes reload failures for an operator to surface, without
// interrupting the watcher.
func (w *Watcher) Errors() <-chan error {
	return w.errCh
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	<-w.done
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("fspec watch error: %v", err)
		}
	}
}

// scheduleReload debounces bursts of writes (editors often write a file in
// several syscalls) into a single reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceFor, w.reload)
}

func (w *Watcher) reload() {
	stack, err := loadStack(w.path)
	if err != nil {
		w.logger.Warnf("failed to reload fspec %s: %v", w.path, err)
		select {
		case w.errCh <- err:
		default:
		}
		return
	}
	w.current.Store(stack)
	w.logger.Infof("reloaded fspec %s (%d filters)", w.path, stack.Len())
}

func loadStack(path string) (*filterstack.Stack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("filterspec: read %s: %w", path, err)
	}
	filters, err := Parse(string(data))
	if err != nil {
		return nil, err
	}
	return filterstack.New(filters)
}
