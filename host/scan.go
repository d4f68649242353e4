package host

import (
	"context"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/internal/pubsub"
	"github.com/shaban/fxhost/plugins"
	"github.com/shaban/fxhost/scan"
)

// Scan starts a scan. Empty request fields fall back to the configured formats and
// the persisted search paths. The caller drains the run's events.
func (h *Host) Scan(ctx context.Context, req scan.Request) (*scan.Run, error) {
	if len(req.Formats) == 0 {
		req.Formats = h.cfg.Scan.ParsedFormats()
	}
	if len(req.SearchPaths) == 0 {
		req.SearchPaths = h.SearchPaths()
	}
	return h.scanner.Scan(ctx, req)
}

// StartScan runs a full scan in the background and returns its ID. Progress is
// only observable through the broker.
func (h *Host) StartScan(ctx context.Context) (string, error) {
	run, err := h.Scan(ctx, scan.Request{})
	if err != nil {
		return "", err
	}
	go drain(run)
	return run.ID(), nil
}

func drain(run *scan.Run) {
	for range run.Events() {
	}
}

// catalogAdded runs on the scan goroutine after a probe succeeded.
func (h *Host) catalogAdded(d plugins.Descriptor) {
	if err := h.repo.SaveCatalog(h.bg, h.catalog); err != nil {
		h.logger.Error("Failed to persist catalog", zap.Error(err))
	}
	h.events.Publish(pubsub.TopicCatalog, d)
}

// blacklistAdded runs on a prompt goroutine after the user chose to blacklist.
func (h *Host) blacklistAdded(key plugins.Key) {
	if err := h.blacklistEdited(h.bg, BlacklistChange{Added: []plugins.Key{key}}); err != nil {
		h.logger.Error("Failed to apply blacklist decision", zap.String("plugin", string(key)), zap.Error(err))
	}
}
