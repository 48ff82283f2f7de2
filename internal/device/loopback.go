// internal/device/loopback.go
package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/droidpilot-ai/droidpilot-cli/api/schemas"
)

// Loopback is an in-process device: it implements both ScreenProvider and
// Executor without touching real hardware. Every input lands in an action
// journal, and captures return a synthetic frame whose color shifts with the
// action count, so a driven run produces observably different screenshots.
//
// It backs the --loopback CLI mode and the integration tests.
type Loopback struct {
	logger *zap.Logger

	mu      sync.Mutex
	actions []string
	// failNext holds errors returned by the next executor calls, FIFO.
	failNext []error
	// captureErr, when set, fails captures until the counter hits zero.
	captureFailures int
}

// NewLoopback creates the device.
func NewLoopback(logger *zap.Logger) *Loopback {
	return &Loopback{logger: logger.Named("device.loopback")}
}

// FailNext queues errors to be returned, in order, by upcoming executor
// calls. Wrap with schemas.Transient to exercise the retry path.
func (d *Loopback) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = append(d.failNext, errs...)
}

// FailCaptures makes the next n captures fail.
func (d *Loopback) FailCaptures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.captureFailures = n
}

// Actions returns the journal of executed inputs.
func (d *Loopback) Actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.actions))
	copy(out, d.actions)
	return out
}

// Capture renders a synthetic 1080x1920 PNG frame.
func (d *Loopback) Capture(ctx context.Context) (*schemas.Screenshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.captureFailures > 0 {
		d.captureFailures--
		d.mu.Unlock()
		return nil, schemas.Transient(fmt.Errorf("loopback capture fault injected"))
	}
	seed := len(d.actions)
	d.mu.Unlock()

	const width, height = 1080, 1920
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shade := color.RGBA{R: uint8(40 + seed*13), G: uint8(40 + seed*7), B: uint8(60 + seed*3), A: 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, shade)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode loopback frame: %w", err)
	}

	return &schemas.Screenshot{
		MIMEType:   "image/png",
		Data:       buf.Bytes(),
		Width:      width,
		Height:     height,
		CapturedAt: time.Now(),
	}, nil
}

func (d *Loopback) record(ctx context.Context, entry string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.failNext) > 0 {
		err := d.failNext[0]
		d.failNext = d.failNext[1:]
		if err != nil {
			d.logger.Debug("Injected executor failure.", zap.String("action", entry), zap.Error(err))
			return err
		}
	}

	d.actions = append(d.actions, entry)
	d.logger.Info("Executed device input.", zap.String("action", entry))
	return nil
}

func (d *Loopback) Tap(ctx context.Context, x, y int) error {
	return d.record(ctx, fmt.Sprintf("tap(%d, %d)", x, y))
}

func (d *Loopback) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	return d.record(ctx, fmt.Sprintf("swipe(%d, %d, %d, %d, %d)", x1, y1, x2, y2, durationMs))
}

func (d *Loopback) LongPress(ctx context.Context, x, y, durationMs int) error {
	return d.record(ctx, fmt.Sprintf("long_press(%d, %d, %d)", x, y, durationMs))
}

func (d *Loopback) DoubleTap(ctx context.Context, x, y int) error {
	return d.record(ctx, fmt.Sprintf("double_tap(%d, %d)", x, y))
}

func (d *Loopback) TypeText(ctx context.Context, text string) error {
	return d.record(ctx, fmt.Sprintf("type(%q)", text))
}

func (d *Loopback) LaunchApp(ctx context.Context, appName string) error {
	return d.record(ctx, fmt.Sprintf("launch(%q)", appName))
}

func (d *Loopback) KeyPress(ctx context.Context, keyCode int) error {
	return d.record(ctx, fmt.Sprintf("key(%d)", keyCode))
}
