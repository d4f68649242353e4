package reconciler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shaban/fxhost/chain"
)

var (
	// ErrUnknownPlugin is returned when adding a key the catalog does not hold.
	ErrUnknownPlugin = errors.New("plugin not in catalog")
	// ErrBlacklisted is returned when adding a blacklisted plugin.
	ErrBlacklisted = errors.New("plugin is blacklisted")
	// ErrNoChannels is returned when adding a plugin without audio inputs or outputs.
	ErrNoChannels = errors.New("plugin has no audio channels")
	// ErrPersist wraps failures to save the chain. The in-memory change stays applied.
	ErrPersist = errors.New("persist chain")
	// ErrIndexOutOfRange is returned for positions outside the chain.
	ErrIndexOutOfRange = chain.ErrIndexOutOfRange
)

// ErrorHandler receives failures the reconciler cannot return to a caller in
// a useful way, such as persistence errors.
type ErrorHandler interface {
	HandleError(error)
}

// DefaultErrorHandler reports errors on zap's global logger.
type DefaultErrorHandler struct{}

// HandleError implements ErrorHandler.
func (h *DefaultErrorHandler) HandleError(err error) {
	zap.L().Error("reconciler error", zap.Error(err))
}

// LoggingErrorHandler logs errors and then passes them on.
type LoggingErrorHandler struct {
	underlying ErrorHandler
	logger     *zap.Logger
}

// NewLoggingErrorHandler creates a logging handler. underlying may be nil.
func NewLoggingErrorHandler(underlying ErrorHandler, logger *zap.Logger) *LoggingErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingErrorHandler{underlying: underlying, logger: logger}
}

// HandleError implements ErrorHandler.
func (h *LoggingErrorHandler) HandleError(err error) {
	h.logger.Error("reconciler error", zap.Error(err))
	if h.underlying != nil {
		h.underlying.HandleError(err)
	}
}

// PanicErrorHandler panics on any error. Useful in development.
type PanicErrorHandler struct{}

// HandleError implements ErrorHandler.
func (h *PanicErrorHandler) HandleError(err error) {
	panic(fmt.Sprintf("reconciler error: %v", err))
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(error)

// HandleError implements ErrorHandler.
func (f ErrorHandlerFunc) HandleError(err error) { f(err) }
