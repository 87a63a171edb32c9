package policyfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DebounceInterval collapses bursts of write events into one reload
const DebounceInterval = 100 * time.Millisecond

// Invalidator drops cached policies for a tenant
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

// Watcher reloads a Source when its file changes and invalidates the
// tenants whose policy differs.
type Watcher struct {
	source      *Source
	invalidator Invalidator
	watcher     *fsnotify.Watcher
	logger      *zap.Logger
	debounce    time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	onReload func(changed []string)

	// held for the whole of a reload so Stop can wait one out
	reloading sync.Mutex
}

// NewWatcher watches the source file and its directory, so editors that
// save by rename are seen too
func NewWatcher(source *Source, invalidator Invalidator, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(source.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	return &Watcher{
		source:      source,
		invalidator: invalidator,
		watcher:     fw,
		logger:      logger,
		debounce:    DebounceInterval,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after every successful reload
func (w *Watcher) OnReload(fn func(changed []string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching
func (w *Watcher) Start() {
	go w.loop()
	w.logger.Info("policy file watcher started", zap.String("path", w.source.Path()))
}

// Stop stops watching and waits for the loop and any running reload to
// exit. No reload starts after Stop returns.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		<-w.done

		w.reloading.Lock()
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.reloading.Unlock()
		w.logger.Info("policy file watcher stopped")
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	target := filepath.Base(w.source.Path())

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload runs on the debounce timer. A timer that fired before Stop may
// still call it; it then does nothing.
func (w *Watcher) reload() {
	w.reloading.Lock()
	defer w.reloading.Unlock()

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	changed, err := w.source.Reload()
	if err != nil {
		w.logger.Error("policy file reload failed, keeping current policies",
			zap.String("path", w.source.Path()),
			zap.Error(err),
		)
		return
	}

	ctx := context.Background()
	for _, tenantID := range changed {
		if err := w.invalidator.Invalidate(ctx, tenantID); err != nil {
			w.logger.Warn("failed to invalidate policy", zap.String("tenant_id", tenantID), zap.Error(err))
		}
	}
	w.logger.Info("policy file reloaded",
		zap.String("path", w.source.Path()),
		zap.Strings("changed_tenants", changed),
	)

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(changed)
	}
}
