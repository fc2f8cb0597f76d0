// Package launcher executes mission plans: ordered steps, each naming an
// agent and a task. The plan file itself is the crash-safe journal; step
// status is persisted before and after every dispatch, so a restarted
// process resumes exactly where it stopped.
package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentos/internal/agent"
	"agentos/internal/memory"
)

// ErrUnknownAgent marks a step naming an agent the registry cannot resolve.
var ErrUnknownAgent = errors.New("launcher: unknown agent")

// Step statuses journaled in the plan file.
const (
	StatusPending     = "pending"
	StatusInProgress  = "in_progress"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusUnavailable = "unavailable"
)

// Step is one unit of mission work.
type Step struct {
	Agent  string `json:"agent"`
	Task   string `json:"task"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Plan is a mission: a goal and its ordered steps.
type Plan struct {
	Goal  string `json:"goal"`
	Steps []Step `json:"steps"`
}

// AgentSource resolves mission-facing agent names.
type AgentSource interface {
	Known(name string) bool
	New(name string, deps agent.Deps) (agent.Agent, error)
}

// Launcher runs plans one step at a time.
type Launcher struct {
	agents  AgentSource
	deps    agent.Deps
	store   *memory.Store
	timeout time.Duration
	log     *zap.Logger
}

// New builds a launcher. timeout bounds each whole mission; zero means
// 10 minutes.
func New(agents AgentSource, deps agent.Deps, store *memory.Store, timeout time.Duration, log *zap.Logger) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Launcher{agents: agents, deps: deps, store: store, timeout: timeout, log: log}
}

// LoadPlan reads and parses a plan file. Unreadable or malformed plans are
// fatal for the mission.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("launcher: read plan %s: %w", path, err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("launcher: parse plan %s: %w", path, err)
	}
	for i := range plan.Steps {
		if plan.Steps[i].Status == "" {
			plan.Steps[i].Status = StatusPending
		}
	}
	return &plan, nil
}

// savePlan writes the plan atomically so a crash mid-write never corrupts
// the journal.
func savePlan(path string, plan *Plan) error {
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("launcher: encode plan: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".plan-*.json")
	if err != nil {
		return fmt.Errorf("launcher: temp plan: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("launcher: write plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("launcher: close plan: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("launcher: replace plan: %w", err)
	}
	return nil
}

// Run executes one plan file to the end. Step failures never abort the
// mission; each failure is journaled and the next step runs. The returned
// error covers only plan-level problems.
func (l *Launcher) Run(ctx context.Context, planPath string) error {
	plan, err := LoadPlan(planPath)
	if err != nil {
		return err
	}
	l.log.Info("mission plan loaded",
		zap.String("goal", plan.Goal),
		zap.Int("steps", len(plan.Steps)))

	if l.store != nil {
		if err := l.store.Save(memory.KeyMissionPlan, plan); err != nil {
			l.log.Warn("plan not mirrored to memory", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Status != StatusPending {
			l.log.Info("skipping step",
				zap.Int("step", i+1),
				zap.String("agent", step.Agent),
				zap.String("status", step.Status))
			continue
		}
		if ctx.Err() != nil {
			l.log.Warn("mission deadline reached", zap.Int("step", i+1))
			break
		}

		if !l.agents.Known(step.Agent) {
			step.Status = StatusUnavailable
			step.Error = fmt.Errorf("%w: %q", ErrUnknownAgent, step.Agent).Error()
			l.log.Warn("step agent unavailable",
				zap.Int("step", i+1),
				zap.String("agent", step.Agent))
			if err := savePlan(planPath, plan); err != nil {
				return err
			}
			continue
		}

		// Journal in_progress before dispatch: a crash during the step is
		// visible on restart.
		step.Status = StatusInProgress
		step.Error = ""
		if err := savePlan(planPath, plan); err != nil {
			return err
		}

		runErr := l.dispatch(ctx, step)
		if runErr != nil {
			step.Status = StatusError
			step.Error = runErr.Error()
			l.log.Warn("step failed",
				zap.Int("step", i+1),
				zap.String("agent", step.Agent),
				zap.Error(runErr))
		} else {
			step.Status = StatusCompleted
			l.log.Info("step completed",
				zap.Int("step", i+1),
				zap.String("agent", step.Agent))
		}
		if err := savePlan(planPath, plan); err != nil {
			return err
		}
	}

	if l.store != nil {
		if err := l.store.Save(memory.KeyMissionPlan, plan); err != nil {
			l.log.Warn("final plan not mirrored to memory", zap.Error(err))
		}
	}
	l.log.Info("mission plan finished", zap.String("goal", plan.Goal))
	return nil
}

// dispatch instantiates a fresh agent for the step and runs it with panic
// isolation; a panicking agent becomes a step error, not a crashed mission.
func (l *Launcher) dispatch(ctx context.Context, step *Step) error {
	a, err := l.agents.New(step.Agent, l.deps)
	if err != nil {
		return err
	}
	a.SetTask(step.Task)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent %s panicked: %v", step.Agent, r)
			}
		}()
		return a.Run(gctx)
	})
	return g.Wait()
}
