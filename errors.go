package netpulse

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/jpalmerr/netpulse/internal/poller"
)

var (
	// ErrUnknownTask is returned when an operation names a key that was never configured.
	ErrUnknownTask = errors.New("unknown task")

	// ErrBlankURL is returned when starting a task whose URL is empty.
	ErrBlankURL = errors.New("task url is blank")

	// ErrHTTPStatus indicates a fetch received a non-2xx response.
	ErrHTTPStatus = poller.ErrHTTPStatus

	// ErrInvalidJSON indicates a fetch received a body that is not valid JSON.
	ErrInvalidJSON = poller.ErrInvalidJSON

	// ErrPathNotFound indicates a task's select path is absent from the payload.
	ErrPathNotFound = poller.ErrPathNotFound
)

// FetchError describes a failed task fetch. Use errors.As to inspect the
// status code; errors.Is matches [ErrHTTPStatus], [ErrInvalidJSON],
// [ErrPathNotFound] or the underlying transport error.
type FetchError = poller.FetchError

// PanicError is the error recorded when a poll function, fetcher or hook panics.
//
// The full stack trace is logged under CorrelationID; the error itself only
// carries the ID and the panic value.
type PanicError struct {
	CorrelationID string
	Value         any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v (correlation_id: %s)", e.Value, e.CorrelationID)
}

// recoverPanic logs a recovered panic with a fresh correlation ID and
// returns it as a *PanicError.
func recoverPanic(logger *slog.Logger, source string, r any, attrs ...any) error {
	id := uuid.NewString()
	logger.Error(source+" panicked", append(attrs,
		"correlation_id", id,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()),
	)...)
	return &PanicError{CorrelationID: id, Value: r}
}
