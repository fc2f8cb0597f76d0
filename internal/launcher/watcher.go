package launcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay gives the writer of a dropped plan file time to finish before
// the plan is read.
const settleDelay = 500 * time.Millisecond

// Watch runs every *.json plan file dropped into dir, in arrival order,
// until the context is cancelled. Plan-level errors are logged, never fatal
// for the watch loop.
func (l *Launcher) Watch(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("launcher: watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("launcher: watch %s: %w", dir, err)
	}
	l.log.Info("watching for mission plans", zap.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".json" {
				continue
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			l.log.Info("new mission plan detected", zap.String("path", ev.Name))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(settleDelay):
			}
			if err := l.Run(ctx, ev.Name); err != nil {
				l.log.Error("mission plan failed", zap.String("path", ev.Name), zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("watcher error", zap.Error(err))
		}
	}
}
