package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"agentos/internal/memory"
	"agentos/internal/types"
)

// HandlePoster is the Poster's registry handle.
const HandlePoster = "poster"

// PosterHomeURL is where the Poster lands before handing over to the brain,
// so the vision loop starts from a known page instead of a blank tab.
const PosterHomeURL = "https://x.com"

// Poster publishes the content the Writer left in memory. Navigation is one
// gated browse; everything after that is the vision-guided loop.
type Poster struct {
	Base
	memory  KV
	gateway ActionRequester
	brain   MissionRunner
}

// NewPoster is the Poster's registry factory.
func NewPoster(name string, deps Deps) (Agent, error) {
	if deps.Memory == nil || deps.Gateway == nil || deps.Brain == nil {
		return nil, fmt.Errorf("poster: memory, gateway, and brain are required")
	}
	return &Poster{
		Base:    NewBase(name, deps.Log),
		memory:  deps.Memory,
		gateway: deps.Gateway,
		brain:   deps.Brain,
	}, nil
}

// Run loads the drafted post, pre-navigates, and runs the posting mission.
// A brain failure does not fail the step: the outcome is logged and the
// mission plan records the step as completed, matching the fire-and-observe
// contract for goal-level tasks.
func (p *Poster) Run(ctx context.Context) error {
	var content string
	ok, err := p.memory.Load(memory.KeyPostContent, &content)
	if err != nil {
		return fmt.Errorf("poster: load post content: %w", err)
	}
	if !ok || content == "" {
		return fmt.Errorf("poster: no post content in memory; run the writer first")
	}

	task := p.Task()
	if task == "" {
		task = "Post the drafted content"
	}

	if !p.gateway.RequestAction(ctx, p.Name(), types.Browse{URL: PosterHomeURL}, task) {
		return fmt.Errorf("poster: pre-navigation to %s failed", PosterHomeURL)
	}

	goal := fmt.Sprintf("%s. The exact text to post is: %q. Find the compose box, type the text, and submit the post.", task, content)
	if p.brain.RunMission(ctx, goal) {
		p.Log().Info("posting mission finished")
	} else {
		p.Log().Warn("posting mission did not finish", zap.String("goal", task))
	}
	return nil
}
