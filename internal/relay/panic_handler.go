package relay

import (
	"log/slog"
	"runtime/debug"
)

// PanicHandler is told about tasks that panicked. The worker survives.
type PanicHandler interface {
	HandlePanic(workerID string, task string, panicValue any, stackTrace []byte)
}

// LoggingPanicHandler logs panics with their stack trace.
type LoggingPanicHandler struct {
	logger *slog.Logger
}

// NewLoggingPanicHandler returns a handler logging to logger, or the
// default logger when nil.
func NewLoggingPanicHandler(logger *slog.Logger) *LoggingPanicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPanicHandler{logger: logger}
}

// HandlePanic logs the panic.
func (h *LoggingPanicHandler) HandlePanic(workerID string, task string, panicValue any, stackTrace []byte) {
	h.logger.Error("PANIC in worker",
		slog.String("worker_id", workerID),
		slog.String("task", task),
		slog.Any("panic", panicValue),
		slog.String("stack_trace", string(stackTrace)))
}

// PanicHandlerFunc adapts a function to PanicHandler.
type PanicHandlerFunc func(workerID string, task string, panicValue any, stackTrace []byte)

// HandlePanic calls f.
func (f PanicHandlerFunc) HandlePanic(workerID string, task string, panicValue any, stackTrace []byte) {
	f(workerID, task, panicValue, stackTrace)
}

// handleRecoveredPanic passes a recovered panic and the current stack to handler.
func handleRecoveredPanic(workerID, task string, panicValue any, handler PanicHandler) {
	handler.HandlePanic(workerID, task, panicValue, debug.Stack())
}
