package host

import (
	"errors"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/internal/watch"
	"github.com/shaban/fxhost/scan"
)

type watcher struct {
	w    *watch.Watcher
	done chan struct{}
}

func (w *watcher) stop() error {
	err := w.w.Stop()
	<-w.done
	return err
}

// Watching reports whether search paths are being watched.
func (h *Host) Watching() bool {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	return h.watcher != nil
}

// startWatch watches the current search paths, replacing an earlier watcher.
// Each change batch drops cached candidate lists and rescans the changed paths.
func (h *Host) startWatch() error {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.watcher != nil {
		if err := h.watcher.stop(); err != nil {
			h.logger.Warn("Stopping watcher failed", zap.Error(err))
		}
		h.watcher = nil
	}

	w, err := watch.New(watch.Config{
		Paths:    h.SearchPaths(),
		Debounce: h.cfg.Scan.Debounce,
		Logger:   h.logger,
	})
	if err != nil {
		return err
	}
	batches, n, err := w.Start()
	if err != nil {
		_ = w.Stop()
		return err
	}
	h.logger.Info("Watching search paths", zap.Int("paths", n))

	hw := &watcher{w: w, done: make(chan struct{})}
	go func() {
		defer close(hw.done)
		for batch := range batches {
			h.rescan(batch)
		}
	}()
	h.watcher = hw
	return nil
}

func (h *Host) rescan(batch watch.Batch) {
	for _, p := range batch {
		h.scanner.Invalidate(p)
	}
	run, err := h.Scan(h.bg, scan.Request{SearchPaths: h.SearchPaths()})
	if errors.Is(err, scan.ErrScanRunning) {
		h.logger.Debug("Rescan skipped, scan in progress", zap.Strings("changed", batch))
		return
	}
	if err != nil {
		h.logger.Warn("Rescan failed", zap.Error(err))
		return
	}
	drain(run)
	<-run.Done()
	h.logger.Info("Rescan finished", zap.Strings("changed", batch), zap.Stringer("result", run.Result()))
}
