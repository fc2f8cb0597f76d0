// Package osinput delivers mouse clicks and keystrokes at logical
// primary-monitor coordinates. The shipped implementation injects raw input
// events through the browser window over CDP, which lands clicks even when
// a page overlay would swallow the element's own click handler.
package osinput

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"agentos/internal/types"
)

// settlePause gives the focused window time to settle before input lands.
const settlePause = 250 * time.Millisecond

// Driver accepts logical coordinates and clamps them to the primary
// monitor's logical resolution before delivering input.
type Driver interface {
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string, interCharDelay time.Duration) error
}

// CDPDriver implements Driver against the controlled browser window.
type CDPDriver struct {
	page    *rod.Page
	display types.DisplayContext
	log     *zap.Logger
}

// NewCDPDriver binds the driver to the browser page and the detected
// display context.
func NewCDPDriver(page *rod.Page, dc types.DisplayContext, log *zap.Logger) *CDPDriver {
	if log == nil {
		log = zap.NewNop()
	}
	return &CDPDriver{page: page, display: dc, log: log}
}

// Click presses and releases the left button at logical screen coordinates.
func (d *CDPDriver) Click(ctx context.Context, x, y int) error {
	if d.page == nil {
		return fmt.Errorf("osinput: no page")
	}
	x, y = d.clamp(x, y)

	ox, oy, err := d.viewportOrigin(ctx)
	if err != nil {
		return err
	}
	vx := float64(x - ox)
	vy := float64(y - oy)

	if err := pause(ctx, settlePause); err != nil {
		return err
	}

	page := d.page.Context(ctx)
	move := proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    vx,
		Y:    vy,
	}
	if err := move.Call(page); err != nil {
		return fmt.Errorf("osinput: move to (%d,%d): %w", x, y, err)
	}
	press := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          vx,
		Y:          vy,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}
	if err := press.Call(page); err != nil {
		return fmt.Errorf("osinput: press at (%d,%d): %w", x, y, err)
	}
	release := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          vx,
		Y:          vy,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}
	if err := release.Call(page); err != nil {
		return fmt.Errorf("osinput: release at (%d,%d): %w", x, y, err)
	}

	d.log.Debug("clicked", zap.Int("x", x), zap.Int("y", y))
	return nil
}

// Type inserts text character by character with the given delay.
func (d *CDPDriver) Type(ctx context.Context, text string, interCharDelay time.Duration) error {
	if d.page == nil {
		return fmt.Errorf("osinput: no page")
	}
	if err := pause(ctx, settlePause); err != nil {
		return err
	}

	page := d.page.Context(ctx)
	for _, r := range text {
		insert := proto.InputInsertText{Text: string(r)}
		if err := insert.Call(page); err != nil {
			return fmt.Errorf("osinput: type: %w", err)
		}
		if interCharDelay > 0 {
			if err := pause(ctx, interCharDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *CDPDriver) clamp(x, y int) (int, int) {
	w, h := d.display.LogicalResolution()
	if w <= 0 || h <= 0 {
		return x, y
	}
	return min(max(x, 0), w-1), min(max(y, 0), h-1)
}

// viewportOrigin estimates where the page viewport sits on the logical
// screen, so logical screen coordinates can be translated to viewport
// coordinates for CDP input events.
func (d *CDPDriver) viewportOrigin(ctx context.Context) (int, int, error) {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const chromeW = window.outerWidth - window.innerWidth;
			const chromeH = window.outerHeight - window.innerHeight;
			return {
				x: window.screenX + Math.floor(chromeW / 2),
				y: window.screenY + chromeH - Math.floor(chromeW / 2),
			};
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("osinput: viewport origin: %w", err)
	}
	if res == nil {
		return 0, 0, fmt.Errorf("osinput: viewport origin: empty eval result")
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return 0, 0, fmt.Errorf("osinput: viewport origin: %w", err)
	}
	var origin struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := json.Unmarshal(raw, &origin); err != nil {
		return 0, 0, fmt.Errorf("osinput: viewport origin: %w", err)
	}
	return origin.X, origin.Y, nil
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
