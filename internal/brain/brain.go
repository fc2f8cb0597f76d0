// Package brain runs the vision-guided perceive, think, act loop that turns
// a natural-language goal into a sequence of gated browser actions.
package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agentos/internal/types"
	"agentos/internal/vision"
)

// Perceiver produces fresh environment snapshots.
type Perceiver interface {
	Capture(ctx context.Context) (*types.Snapshot, error)
}

// Executor is the action gateway from the brain's point of view.
type Executor interface {
	RequestAction(ctx context.Context, agent string, act types.Action, taskContext string) bool
}

// PerceptionSink receives each snapshot before any action of the same step
// is requested.
type PerceptionSink interface {
	UpdatePerception(snap *types.Snapshot)
}

// Locator reports where the browser currently is.
type Locator interface {
	CurrentHost() string
}

// Config bounds the loop.
type Config struct {
	MaxSteps int
	// StepPause is the wait between steps so the page can settle.
	StepPause time.Duration
	// ForceClickHosts lists hosts whose overlays swallow normal clicks;
	// clicks there are forced.
	ForceClickHosts []string
	Models          []string
}

func (c Config) maxSteps() int {
	if c.MaxSteps <= 0 {
		return 15
	}
	return c.MaxSteps
}

func (c Config) stepPause() time.Duration {
	if c.StepPause <= 0 {
		return 2 * time.Second
	}
	return c.StepPause
}

// Brain is stateless across missions; history lives per RunMission call.
type Brain struct {
	cfg       Config
	vision    vision.Client
	perceiver Perceiver
	executor  Executor
	sink      PerceptionSink
	locator   Locator
	log       *zap.Logger
}

// New wires the brain to its collaborators.
func New(cfg Config, visionClient vision.Client, perceiver Perceiver, executor Executor, sink PerceptionSink, locator Locator, log *zap.Logger) *Brain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Brain{cfg: cfg, vision: visionClient, perceiver: perceiver, executor: executor, sink: sink, locator: locator, log: log}
}

// decision is the model's answer for one step.
type decision struct {
	Reasoning string             `json:"reasoning"`
	Action    types.ActionRecord `json:"action"`
}

// RunMission drives the loop until FINISH, FAIL, a blocked or failed action,
// the step budget, or context cancellation. True means the model declared
// the goal achieved.
func (b *Brain) RunMission(ctx context.Context, goal string) bool {
	history := make([]types.HistoryEntry, 0, b.cfg.maxSteps())
	b.log.Info("mission started", zap.String("goal", goal))

	for step := 1; step <= b.cfg.maxSteps(); step++ {
		if ctx.Err() != nil {
			b.log.Warn("mission cancelled", zap.Int("step", step))
			return false
		}

		snap, err := b.perceiver.Capture(ctx)
		if err != nil {
			b.log.Error("perception failed", zap.Int("step", step), zap.Error(err))
			history = append(history, types.HistoryEntry{
				Reasoning: fmt.Sprintf("perception failed: %v", err),
				Outcome:   types.OutcomeFailure,
			})
			return false
		}
		if b.sink != nil {
			b.sink.UpdatePerception(snap)
		}

		prompt := b.buildPrompt(goal, snap, history)
		reply, err := b.vision.Query(ctx, snap.Frame, prompt, b.cfg.Models...)
		if err != nil {
			b.log.Error("vision query failed", zap.Int("step", step), zap.Error(err))
			history = append(history, types.HistoryEntry{
				Reasoning: fmt.Sprintf("vision query failed: %v", err),
				Outcome:   types.OutcomeFailure,
			})
			return false
		}

		dec, ok := parseDecision(reply)
		if !ok {
			b.log.Error("unparseable model reply", zap.Int("step", step), zap.String("reply", truncate(reply, 300)))
			history = append(history, types.HistoryEntry{
				Reasoning: "model reply had no parseable JSON decision",
				Outcome:   types.OutcomeFailure,
			})
			return false
		}

		entry := types.HistoryEntry{Reasoning: dec.Reasoning, Action: dec.Action}
		history = append(history, entry)
		b.log.Info("step decided",
			zap.Int("step", step),
			zap.String("action", dec.Action.Name),
			zap.String("reasoning", truncate(dec.Reasoning, 200)))

		switch dec.Action.Name {
		case types.NameFinish:
			b.log.Info("mission finished", zap.String("reason", dec.Action.Reason))
			return true
		case types.NameFail:
			b.log.Warn("mission declared failed", zap.String("reason", dec.Action.Reason))
			return false
		}

		act, err := b.toAction(dec.Action)
		if err != nil {
			b.log.Error("unusable action", zap.Error(err))
			history[len(history)-1].Outcome = types.OutcomeFailure
			return false
		}

		if b.executor.RequestAction(ctx, "Brain", act, goal) {
			history[len(history)-1].Outcome = types.OutcomeSuccess
		} else {
			history[len(history)-1].Outcome = types.OutcomeFailure
			b.log.Warn("action blocked or failed, stopping mission", zap.Int("step", step))
			return false
		}

		if err := b.pause(ctx); err != nil {
			return false
		}
	}

	b.log.Warn("step budget exhausted", zap.Int("max_steps", b.cfg.maxSteps()))
	return false
}

// toAction maps the model's named action to the executable sum type. Web
// clicks on hosts with overlay trouble are forced.
func (b *Brain) toAction(rec types.ActionRecord) (types.Action, error) {
	switch rec.Name {
	case types.NameBrowse:
		return types.Browse{URL: rec.URL}, nil
	case types.NameType:
		return types.TypeWeb{Selector: rec.Selector, Text: rec.Text}, nil
	case types.NameClick:
		return types.ClickWeb{Selector: rec.Selector, Force: b.forceClick()}, nil
	case types.NameTypeOS:
		return types.TypeOS{Text: rec.Text}, nil
	case types.NameClickOS:
		return types.ClickOS{X: rec.X, Y: rec.Y}, nil
	default:
		return nil, fmt.Errorf("brain: unknown action name %q", rec.Name)
	}
}

func (b *Brain) forceClick() bool {
	if b.locator == nil {
		return false
	}
	host := b.locator.CurrentHost()
	for _, h := range b.cfg.ForceClickHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (b *Brain) pause(ctx context.Context) error {
	t := time.NewTimer(b.cfg.stepPause())
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseDecision(reply string) (decision, bool) {
	raw, ok := vision.ExtractJSON(reply)
	if !ok {
		return decision{}, false
	}
	var dec decision
	if err := json.Unmarshal([]byte(raw), &dec); err != nil {
		return decision{}, false
	}
	if dec.Action.Name == "" {
		return decision{}, false
	}
	return dec, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
