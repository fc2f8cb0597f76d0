// Package agent defines the autonomous worker contract and the built-in
// agents. Agents never touch the browser or OS directly; every side effect
// goes through the action gateway, and all shared state lives in memory.
package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"agentos/internal/types"
)

// Agent is one mission worker. SetTask is called once before Run.
type Agent interface {
	Name() string
	SetTask(task string)
	Run(ctx context.Context) error
}

// KV is the shared key-value memory from the agent's point of view.
type KV interface {
	Save(key string, value any) error
	Load(key string, out any) (bool, error)
}

// ActionRequester is the gateway surface agents may use.
type ActionRequester interface {
	RequestAction(ctx context.Context, agent string, act types.Action, taskContext string) bool
}

// MissionRunner drives the vision-guided loop for goal-level tasks.
type MissionRunner interface {
	RunMission(ctx context.Context, goal string) bool
}

// Deps is the closed collaborator set an agent may receive. Factories pick
// the subset they declared.
type Deps struct {
	Memory  KV
	Gateway ActionRequester
	Brain   MissionRunner
	Log     *zap.Logger
}

// Base carries the name, task, and logger every built-in agent shares.
type Base struct {
	name string
	log  *zap.Logger

	mu   sync.Mutex
	task string
}

// NewBase names the agent and binds its child logger.
func NewBase(name string, log *zap.Logger) Base {
	if log == nil {
		log = zap.NewNop()
	}
	return Base{name: name, log: log.Named(name)}
}

func (b *Base) Name() string { return b.name }

func (b *Base) SetTask(task string) {
	b.mu.Lock()
	b.task = task
	b.mu.Unlock()
}

// Task returns the task assigned for the current run.
func (b *Base) Task() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.task
}

// Log is the agent's named logger.
func (b *Base) Log() *zap.Logger { return b.log }
