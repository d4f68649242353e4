// Package watch reports changes under plugin search paths, debounced into batches.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Batch lists the distinct directories that changed during one debounce window.
type Batch []string

// Config holds watcher configuration options.
type Config struct {
	Paths    []string
	Debounce time.Duration
	Logger   *zap.Logger
}

// DefaultDebounce is used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors search paths for added, removed or rewritten plugin bundles.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     []string
	debounce  time.Duration
	logger    *zap.Logger
	onChange  chan Batch
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Watcher{
		fsWatcher: fsw,
		paths:     append([]string(nil), cfg.Paths...),
		debounce:  cfg.Debounce,
		logger:    cfg.Logger,
		onChange:  make(chan Batch, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching every existing search path. Missing paths are skipped; the
// result counts the paths actually watched. The channel is closed by Stop.
func (w *Watcher) Start() (<-chan Batch, int, error) {
	watched := 0
	for _, p := range w.paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			w.logger.Debug("search path not watchable", zap.String("path", p))
			continue
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return nil, watched, fmt.Errorf("watching directory %s: %w", p, err)
		}
		watched++
	}
	w.wg.Add(1)
	go w.loop()
	return w.onChange, watched, nil
}

// Stop terminates the watcher and releases resources. It is safe to call twice.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.onChange)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = map[string]struct{}{}
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			pending[filepath.Dir(event.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			batch := make(Batch, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = map[string]struct{}{}
			select {
			case w.onChange <- batch:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// relevant drops pure attribute changes; everything else may add or remove a plugin.
func relevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0
}
