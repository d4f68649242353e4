package host

import (
	"go.uber.org/zap"

	"github.com/shaban/fxhost/loader"
	"github.com/shaban/fxhost/scan"
	"github.com/shaban/fxhost/store"
)

// Option customizes New.
type Option func(*options)

type options struct {
	loaders  []loader.Loader
	store    store.Store
	logger   *zap.Logger
	prompter scan.Prompter
	metrics  scan.MetricsHook
}

// WithLoader registers an additional format loader. It replaces a built-in loader
// of the same format.
func WithLoader(l loader.Loader) Option {
	return func(o *options) { o.loaders = append(o.loaders, l) }
}

// WithStore uses s instead of opening the configured store. The host closes it.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithLogger uses l instead of building one from the log configuration.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPrompter answers blacklist prompts raised by scans.
func WithPrompter(p scan.Prompter) Option {
	return func(o *options) { o.prompter = p }
}

// WithMetrics receives scan metrics callbacks.
func WithMetrics(m scan.MetricsHook) Option {
	return func(o *options) { o.metrics = m }
}
