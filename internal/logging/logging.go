// Package logging wires the process-wide zap core and hands out per-category
// child loggers (boot, launcher, brain, gateway, supervisor, browser, vision,
// perception, agents).
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init builds the shared production core. Verbose lowers the level to Debug.
// Safe to call once at process start; tests that skip it get a nop logger.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	mu.Lock()
	root = logger
	mu.Unlock()
	return nil
}

// For returns a child logger named after a subsystem category.
func For(category string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(category)
}

// Sync flushes buffered log entries. Called on process exit.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
