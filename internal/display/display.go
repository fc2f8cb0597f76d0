// Package display probes the primary monitor's geometry and scaling factor
// through the live browser page and caches the result in memory so every
// collaborator shares one coordinate system.
package display

import (
	"context"
	"encoding/json"
	"math"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"agentos/internal/memory"
	"agentos/internal/types"
)

// probeScript reads the screen geometry the renderer sees. screen.width and
// screen.height are logical pixels; devicePixelRatio converts to physical.
const probeScript = `
() => ({
	scale: window.devicePixelRatio || 1,
	width: screen.width,
	height: screen.height,
	left: screen.availLeft || 0,
	top: screen.availTop || 0,
})
`

// Fallback is used when no probe is possible: no scaling, a common monitor.
func Fallback() types.DisplayContext {
	return types.DisplayContext{
		ScalingFactor: 1.0,
		Resolution:    [2]int{1920, 1080},
		BBox:          [4]int{0, 0, 1920, 1080},
	}
}

// Detect queries the page for the primary monitor's context. Any probe
// failure degrades to the fallback; a missing scaling factor is 1.0.
func Detect(ctx context.Context, page *rod.Page, log *zap.Logger) types.DisplayContext {
	if log == nil {
		log = zap.NewNop()
	}
	if page == nil {
		log.Warn("no page for display probe, using fallback")
		return Fallback()
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           probeScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		log.Warn("display probe failed, using fallback", zap.Error(err))
		return Fallback()
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return Fallback()
	}
	var probe struct {
		Scale  float64 `json:"scale"`
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Left   int     `json:"left"`
		Top    int     `json:"top"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Width <= 0 || probe.Height <= 0 {
		return Fallback()
	}

	scale := probe.Scale
	if scale <= 0 {
		scale = 1.0
	}
	dc := types.DisplayContext{
		ScalingFactor: scale,
		Resolution: [2]int{
			int(math.Round(float64(probe.Width) * scale)),
			int(math.Round(float64(probe.Height) * scale)),
		},
		BBox: [4]int{probe.Left, probe.Top, probe.Left + probe.Width, probe.Top + probe.Height},
	}
	log.Info("display context detected",
		zap.Float64("scaling_factor", dc.ScalingFactor),
		zap.Int("width", dc.Resolution[0]),
		zap.Int("height", dc.Resolution[1]))
	return dc
}

// Cache stores the context in memory under the display_context key.
func Cache(store *memory.Store, dc types.DisplayContext) error {
	return store.Save(memory.KeyDisplayContext, dc)
}

// Cached loads the previously stored context. The second return is false
// when none was cached.
func Cached(store *memory.Store) (types.DisplayContext, bool) {
	var dc types.DisplayContext
	ok, err := store.Load(memory.KeyDisplayContext, &dc)
	if err != nil || !ok {
		return types.DisplayContext{}, false
	}
	return dc, true
}
