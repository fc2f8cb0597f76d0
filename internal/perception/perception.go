// Package perception produces on-demand snapshots of the environment: the
// primary-monitor frame, the filtered DOM of the live page, and a content
// hash for cheap change detection. There is no polling loop; the brain
// captures when it needs to see.
package perception

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentos/internal/types"
)

// Source is the capture transport, satisfied by the browser driver.
type Source interface {
	Screenshot(ctx context.Context, quality int) ([]byte, int, int, error)
	DOM(ctx context.Context) ([]types.DomNode, error)
	Live() bool
}

// Controller captures snapshots and tracks the last content hash.
type Controller struct {
	source      Source
	jpegQuality int
	debugDump   bool
	log         *zap.Logger

	mu       sync.Mutex
	lastHash string
}

// New builds a controller. debugDump additionally writes each frame to the
// OS temp directory (DEBUG_VISION).
func New(source Source, jpegQuality int, debugDump bool, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if jpegQuality <= 0 {
		jpegQuality = 95
	}
	return &Controller{source: source, jpegQuality: jpegQuality, debugDump: debugDump, log: log}
}

// Capture grabs the frame and, when a page is live, the filtered DOM. A DOM
// failure degrades to an empty element list; a frame failure is fatal for
// the capture.
func (c *Controller) Capture(ctx context.Context) (*types.Snapshot, error) {
	frame, w, h, err := c.source.Screenshot(ctx, c.jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("perception: capture frame: %w", err)
	}

	var dom []types.DomNode
	if c.source.Live() {
		dom, err = c.source.DOM(ctx)
		if err != nil {
			c.log.Warn("dom extraction failed, continuing with frame only", zap.Error(err))
			dom = nil
		}
	}

	sum := sha1.Sum(frame)
	snap := &types.Snapshot{
		Frame:       frame,
		Width:       w,
		Height:      h,
		DOM:         dom,
		ContentHash: hex.EncodeToString(sum[:]),
		CapturedAt:  time.Now(),
	}

	if c.debugDump {
		c.dumpFrame(snap)
	}
	return snap, nil
}

// Changed reports whether the snapshot differs from the previous capture
// and records its hash as the new baseline.
func (c *Controller) Changed(snap *types.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.ContentHash == c.lastHash {
		return false
	}
	c.lastHash = snap.ContentHash
	return true
}

func (c *Controller) dumpFrame(snap *types.Snapshot) {
	name := fmt.Sprintf("agentos_frame_%s.jpg", snap.CapturedAt.Format("150405.000"))
	path := filepath.Join(os.TempDir(), name)
	if err := os.WriteFile(path, snap.Frame, 0o644); err != nil {
		c.log.Warn("debug frame dump failed", zap.Error(err))
		return
	}
	c.log.Debug("debug frame saved", zap.String("path", path))
}
