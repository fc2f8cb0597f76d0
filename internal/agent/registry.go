package agent

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Factory builds one agent instance under its mission-facing name.
type Factory func(name string, deps Deps) (Agent, error)

// Collaborator names a factory may declare.
const (
	NeedMemory  = "memory"
	NeedGateway = "gateway"
	NeedBrain   = "brain"
)

type descriptor struct {
	requires []string
	build    Factory
}

// Registry maps mission-facing agent names to implementation handles and
// handles to factories. The name map comes from agents_map.json so missions
// can rename agents without a rebuild.
type Registry struct {
	handles map[string]descriptor
	names   map[string]string
	log     *zap.Logger
}

// NewRegistry starts empty; register factories, then load the name map.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		handles: make(map[string]descriptor),
		names:   make(map[string]string),
		log:     log,
	}
}

// Register binds an implementation handle to its factory along with the
// collaborators it declares. The factory receives exactly those, no more.
func (r *Registry) Register(handle string, requires []string, f Factory) {
	r.handles[handle] = descriptor{requires: requires, build: f}
}

// filterDeps narrows the full collaborator set to what the descriptor
// declares. An unknown requirement is a registration bug.
func filterDeps(deps Deps, requires []string) (Deps, error) {
	out := Deps{Log: deps.Log}
	for _, need := range requires {
		switch need {
		case NeedMemory:
			out.Memory = deps.Memory
		case NeedGateway:
			out.Gateway = deps.Gateway
		case NeedBrain:
			out.Brain = deps.Brain
		default:
			return Deps{}, fmt.Errorf("registry: unknown requirement %q", need)
		}
	}
	return out, nil
}

// LoadMap reads the name-to-handle map. A missing file leaves the registry
// empty, which makes every step's agent unknown; that is reported, not fatal.
func (r *Registry) LoadMap(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("agents map not found, no agents available", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", path, err)
	}
	m := make(map[string]string)
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("registry: parse %s: %w", path, err)
	}
	for name, handle := range m {
		if _, ok := r.handles[handle]; !ok {
			r.log.Warn("agents map names unknown handle",
				zap.String("agent", name), zap.String("handle", handle))
			continue
		}
		r.names[name] = handle
	}
	r.log.Info("agents map loaded", zap.Int("agents", len(r.names)))
	return nil
}

// Known reports whether a mission-facing name resolves to a factory.
func (r *Registry) Known(name string) bool {
	_, ok := r.names[name]
	return ok
}

// New instantiates a fresh agent for one step. Agents are never reused
// across steps.
func (r *Registry) New(name string, deps Deps) (Agent, error) {
	handle, ok := r.names[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown agent %q", name)
	}
	d := r.handles[handle]
	narrowed, err := filterDeps(deps, d.requires)
	if err != nil {
		return nil, err
	}
	return d.build(name, narrowed)
}
