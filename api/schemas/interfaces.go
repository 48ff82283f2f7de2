// api/schemas/interfaces.go
package schemas

import (
	"context"
	"errors"
)

// ScreenProvider captures the current device screen. Implemented externally;
// the agent core only consumes the interface.
type ScreenProvider interface {
	Capture(ctx context.Context) (*Screenshot, error)
}

// ModelTransport streams a chat completion from a vision-capable model.
// The returned channel is closed when the stream ends. Cancelling the context
// must abort the stream mid-flight.
type ModelTransport interface {
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// Executor performs device input. One method per action variant; coordinates
// are in the normalized 1000x1000 virtual grid, mapping to physical pixels is
// the implementation's concern. An implementation signals a retryable fault
// by returning a Transient error.
type Executor interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error
	LongPress(ctx context.Context, x, y, durationMs int) error
	DoubleTap(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	LaunchApp(ctx context.Context, appName string) error
	KeyPress(ctx context.Context, keyCode int) error
}

// TransientError marks an executor or transport failure as retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient failure"
	}
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so that IsTransient reports true. A nil err yields nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is eligible for retry: either explicitly
// wrapped as TransientError or a context deadline expiry (timeouts are
// treated as transient by policy).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
