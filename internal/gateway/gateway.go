// Package gateway is the single choke point for agent side effects. Every
// action is validated, resolved to concrete coordinates where needed,
// submitted for approval, and only then executed.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"agentos/internal/types"
)

// ErrUnknownAction marks a request whose kind the gateway cannot execute.
var ErrUnknownAction = errors.New("gateway: unknown action")

// Browser is the web-level executor.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string, force bool) error
	ElementRect(ctx context.Context, selector string) (types.Rect, error)
}

// OSInput is the screen-level executor.
type OSInput interface {
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string, interCharDelay time.Duration) error
}

// Approver decides whether a resolved action may run.
type Approver interface {
	ApproveAction(ctx context.Context, agent string, kind types.Kind, value, taskContext string) bool
}

// Gateway resolves and dispatches approved actions.
type Gateway struct {
	browser  Browser
	osinput  OSInput
	approver Approver
	display  types.DisplayContext
	log      *zap.Logger
}

// New wires the gateway to its executors and the approval authority.
func New(browser Browser, osInput OSInput, approver Approver, display types.DisplayContext, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{browser: browser, osinput: osInput, approver: approver, display: display, log: log}
}

// RequestAction runs one action end to end: validate, resolve, approve,
// execute. The boolean result is the only signal agents get; blocked and
// failed both come back false.
func (g *Gateway) RequestAction(ctx context.Context, agent string, act types.Action, taskContext string) bool {
	if act == nil {
		g.log.Warn("nil action rejected", zap.String("agent", agent))
		return false
	}
	if err := act.Validate(); err != nil {
		g.log.Warn("invalid action rejected",
			zap.String("agent", agent),
			zap.String("kind", string(act.Kind())),
			zap.Error(err))
		return false
	}
	if !act.Kind().Executable() {
		g.log.Warn("non-executable action rejected",
			zap.String("agent", agent),
			zap.String("kind", string(act.Kind())),
			zap.Error(ErrUnknownAction))
		return false
	}

	switch a := act.(type) {
	case types.Browse:
		return g.approveAndRun(ctx, agent, a.Kind(), a.URL, taskContext, func() error {
			return g.browser.Navigate(ctx, a.URL)
		})
	case types.TypeWeb:
		return g.approveAndRun(ctx, agent, a.Kind(), a.Text, taskContext, func() error {
			return g.browser.Type(ctx, a.Selector, a.Text)
		})
	case types.ClickWeb:
		return g.clickWeb(ctx, agent, a, taskContext)
	case types.TypeOS:
		return g.approveAndRun(ctx, agent, a.Kind(), a.Text, taskContext, func() error {
			return g.osinput.Type(ctx, a.Text, 0)
		})
	case types.ClickOS:
		x, y := g.clampLogical(a.X, a.Y)
		return g.approveAndRun(ctx, agent, a.Kind(), fmt.Sprintf("%d,%d", x, y), taskContext, func() error {
			return g.osinput.Click(ctx, x, y)
		})
	default:
		g.log.Warn("unhandled action kind", zap.String("kind", string(act.Kind())))
		return false
	}
}

// clickWeb resolves the selector to its rendered center and converts CSS
// pixels to logical screen pixels through the scaling factor, so approval
// always sees real coordinates. Execution routes through the OS input path,
// except forced clicks on stubborn hosts, which dispatch from page script
// to bypass the driver's actionability checks.
func (g *Gateway) clickWeb(ctx context.Context, agent string, a types.ClickWeb, taskContext string) bool {
	rect, err := g.browser.ElementRect(ctx, a.Selector)
	if err != nil {
		g.log.Warn("selector resolution failed",
			zap.String("agent", agent),
			zap.String("selector", a.Selector),
			zap.Error(err))
		return false
	}

	scale := g.display.ScalingFactor
	if scale <= 0 {
		scale = 1.0
	}
	cx, cy := rect.Center()
	x := int(math.Round(cx / scale))
	y := int(math.Round(cy / scale))
	x, y = g.clampLogical(x, y)

	return g.approveAndRun(ctx, agent, a.Kind(), fmt.Sprintf("%d,%d", x, y), taskContext, func() error {
		if a.Force {
			return g.browser.Click(ctx, a.Selector, true)
		}
		return g.osinput.Click(ctx, x, y)
	})
}

func (g *Gateway) approveAndRun(ctx context.Context, agent string, kind types.Kind, value, taskContext string, run func() error) bool {
	if !g.approver.ApproveAction(ctx, agent, kind, value, taskContext) {
		g.log.Info("action blocked",
			zap.String("agent", agent),
			zap.String("kind", string(kind)),
			zap.String("value", value))
		return false
	}
	if err := run(); err != nil {
		g.log.Warn("action execution failed",
			zap.String("agent", agent),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return false
	}
	g.log.Debug("action executed",
		zap.String("agent", agent),
		zap.String("kind", string(kind)),
		zap.String("value", value))
	return true
}

func (g *Gateway) clampLogical(x, y int) (int, int) {
	w, h := g.display.LogicalResolution()
	if w <= 0 || h <= 0 {
		return x, y
	}
	return min(max(x, 0), w-1), min(max(y, 0), h-1)
}
