package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"agentos/internal/memory"
	"agentos/internal/vision"
)

// HandleWriter is the Writer's registry handle.
const HandleWriter = "writer"

const defaultTrendingPrompt = `Name one topic that is currently interesting to a general tech audience.
Respond with only the topic, a few words, no punctuation.`

const defaultComposePrompt = `Write a short, engaging social media post (under 240 characters) about: %s.
Plain text only, no hashtags, no quotes around the post.`

// writerPrompts allows overriding the Writer's prompts from prompts.yaml.
type writerPrompts struct {
	Trending string `yaml:"trending"`
	Compose  string `yaml:"compose"`
}

// Writer drafts post content with the language model and stores it in shared
// memory for a later step to publish. It performs no browser actions.
type Writer struct {
	Base
	vision  vision.Client
	memory  KV
	prompts writerPrompts
}

// NewWriterFactory closes over the model client and an optional prompt
// override file, returning a factory for the registry.
func NewWriterFactory(visionClient vision.Client, promptsPath string) Factory {
	return func(name string, deps Deps) (Agent, error) {
		if deps.Memory == nil {
			return nil, fmt.Errorf("writer: memory is required")
		}
		w := &Writer{
			Base:   NewBase(name, deps.Log),
			vision: visionClient,
			memory: deps.Memory,
			prompts: writerPrompts{
				Trending: defaultTrendingPrompt,
				Compose:  defaultComposePrompt,
			},
		}
		if promptsPath != "" {
			w.loadPrompts(promptsPath)
		}
		return w, nil
	}
}

func (w *Writer) loadPrompts(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.Log().Warn("prompts file unreadable, using defaults", zap.Error(err))
		}
		return
	}
	var p writerPrompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		w.Log().Warn("prompts file malformed, using defaults", zap.Error(err))
		return
	}
	if p.Trending != "" {
		w.prompts.Trending = p.Trending
	}
	if p.Compose != "" {
		w.prompts.Compose = p.Compose
	}
}

// Run picks a topic, composes the post, and writes it through to memory.
func (w *Writer) Run(ctx context.Context) error {
	if w.vision == nil {
		return fmt.Errorf("writer: no model client")
	}

	topic, err := w.vision.Query(ctx, nil, w.prompts.Trending)
	if err != nil {
		return fmt.Errorf("writer: trending topic: %w", err)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = "technology"
	}
	w.Log().Info("topic chosen", zap.String("topic", topic))

	post, err := w.vision.Query(ctx, nil, fmt.Sprintf(w.prompts.Compose, topic))
	if err != nil {
		return fmt.Errorf("writer: compose post: %w", err)
	}
	post = strings.TrimSpace(post)
	if post == "" {
		return fmt.Errorf("writer: model returned empty post")
	}
	post = fmt.Sprintf("%s (%s)", post, time.Now().Format("Jan 2 15:04"))

	if err := w.memory.Save(memory.KeyPostContent, post); err != nil {
		return fmt.Errorf("writer: save post: %w", err)
	}
	w.Log().Info("post content saved", zap.Int("length", len(post)))
	return nil
}
