package proxy

import "errors"

// queueFullError signals admission rejection for 429 mapping.
type queueFullError struct{}

func (queueFullError) Error() string { return "request queue is full" }

// IsQueueFull reports whether err indicates a full admission queue.
func IsQueueFull(err error) bool {
	var e queueFullError
	return errors.As(err, &e)
}

// queueClosedError is the terminal signal for enqueue/dequeue after shutdown.
type queueClosedError struct{}

func (queueClosedError) Error() string { return "request queue is closed" }

// IsQueueClosed reports whether err indicates queue shutdown.
func IsQueueClosed(err error) bool {
	var e queueClosedError
	return errors.As(err, &e)
}

// switchError signals a failed model switch. Retryable once per descriptor.
type switchError struct {
	model string
	cause error
}

func (e switchError) Error() string { return "model switch failed: " + e.model + ": " + e.cause.Error() }
func (e switchError) Unwrap() error { return e.cause }

// IsSwitchFailed reports whether err indicates a failed model switch.
func IsSwitchFailed(err error) bool {
	var e switchError
	return errors.As(err, &e)
}

// executionError signals the automation step failed before producing output.
type executionError struct{ cause error }

func (e executionError) Error() string { return "completion failed: " + e.cause.Error() }
func (e executionError) Unwrap() error { return e.cause }

// IsExecutionFailed reports whether err indicates an automation step failure
// with no output delivered.
func IsExecutionFailed(err error) bool {
	var e executionError
	return errors.As(err, &e)
}

// streamInterruptedError signals a failure after partial output was delivered.
type streamInterruptedError struct {
	delivered int
	cause     error
}

func (e streamInterruptedError) Error() string {
	return "stream interrupted after partial output: " + e.cause.Error()
}
func (e streamInterruptedError) Unwrap() error { return e.cause }

// IsStreamInterrupted reports whether err indicates a truncated stream.
func IsStreamInterrupted(err error) bool {
	var e streamInterruptedError
	return errors.As(err, &e)
}

// cancelledError is the distinct cancellation outcome (disconnect, timeout,
// explicit cancel or shutdown). Not conflated with failures.
type cancelledError struct{ reason string }

func (e cancelledError) Error() string { return "request cancelled: " + e.reason }

// IsCancelled reports whether err indicates a cancelled descriptor.
func IsCancelled(err error) bool {
	var e cancelledError
	return errors.As(err, &e)
}

// Cancellation reasons surfaced to clients and logs.
const (
	reasonDisconnect = "client disconnected"
	reasonTimeout    = "request timed out"
	reasonShutdown   = "server shutting down"
)
