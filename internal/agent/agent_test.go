package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentos/internal/memory"
	"agentos/internal/types"
)

type mapKV struct {
	data map[string]json.RawMessage
}

func newMapKV() *mapKV {
	return &mapKV{data: make(map[string]json.RawMessage)}
}

func (m *mapKV) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *mapKV) Load(key string, out any) (bool, error) {
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

type scriptedVision struct {
	replies []string
	err     error
	calls   int
	prompts []string
}

func (s *scriptedVision) Query(ctx context.Context, frame []byte, prompt string, models ...string) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

type recordingGateway struct {
	actions []types.Action
	result  bool
}

func (r *recordingGateway) RequestAction(ctx context.Context, agent string, act types.Action, taskContext string) bool {
	r.actions = append(r.actions, act)
	return r.result
}

type fakeBrain struct {
	goals  []string
	result bool
}

func (f *fakeBrain) RunMission(ctx context.Context, goal string) bool {
	f.goals = append(f.goals, goal)
	return f.result
}

func TestWriterSavesPost(t *testing.T) {
	kv := newMapKV()
	vis := &scriptedVision{replies: []string{"open source robotics", "Robots are getting cheap and weird."}}
	factory := NewWriterFactory(vis, "")

	w, err := factory("Writer", Deps{Memory: kv})
	if err != nil {
		t.Fatal(err)
	}
	w.SetTask("write about something trending")
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	var post string
	ok, err := kv.Load(memory.KeyPostContent, &post)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !strings.Contains(post, "Robots are getting cheap and weird.") {
		t.Fatalf("post = %q ok=%v", post, ok)
	}
	if vis.calls != 2 {
		t.Fatalf("model calls = %d, want topic + compose", vis.calls)
	}
	// The compose prompt carries the chosen topic.
	if !strings.Contains(vis.prompts[1], "open source robotics") {
		t.Fatalf("compose prompt = %q", vis.prompts[1])
	}
}

func TestWriterModelFailure(t *testing.T) {
	factory := NewWriterFactory(&scriptedVision{err: errors.New("quota")}, "")
	w, err := factory("Writer", Deps{Memory: newMapKV()})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("model failure must fail the step")
	}
}

func TestWriterPromptOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	body := "trending: \"Pick a niche topic\"\ncompose: \"Write about %s briefly\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	vis := &scriptedVision{replies: []string{"topic", "post body"}}
	factory := NewWriterFactory(vis, path)
	w, err := factory("Writer", Deps{Memory: newMapKV()})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if vis.prompts[0] != "Pick a niche topic" {
		t.Fatalf("trending prompt = %q, want the override", vis.prompts[0])
	}
	if vis.prompts[1] != "Write about topic briefly" {
		t.Fatalf("compose prompt = %q", vis.prompts[1])
	}
}

func TestPosterRequiresDraft(t *testing.T) {
	p, err := NewPoster("Poster", Deps{Memory: newMapKV(), Gateway: &recordingGateway{result: true}, Brain: &fakeBrain{result: true}})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("missing draft must fail the step")
	}
}

func TestPosterPreNavigatesThenRunsMission(t *testing.T) {
	kv := newMapKV()
	if err := kv.Save(memory.KeyPostContent, "ship it"); err != nil {
		t.Fatal(err)
	}
	gw := &recordingGateway{result: true}
	br := &fakeBrain{result: true}
	p, err := NewPoster("Poster", Deps{Memory: kv, Gateway: gw, Brain: br})
	if err != nil {
		t.Fatal(err)
	}
	p.SetTask("Post the drafted content")

	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(gw.actions) != 1 {
		t.Fatalf("gateway actions = %d, want the single pre-navigation", len(gw.actions))
	}
	browse, ok := gw.actions[0].(types.Browse)
	if !ok || browse.URL != PosterHomeURL {
		t.Fatalf("first action = %#v", gw.actions[0])
	}
	if len(br.goals) != 1 || !strings.Contains(br.goals[0], `"ship it"`) {
		t.Fatalf("brain goals = %v, want the drafted text embedded", br.goals)
	}
}

func TestPosterBrainFailureCompletesStep(t *testing.T) {
	kv := newMapKV()
	if err := kv.Save(memory.KeyPostContent, "ship it"); err != nil {
		t.Fatal(err)
	}
	p, err := NewPoster("Poster", Deps{Memory: kv, Gateway: &recordingGateway{result: true}, Brain: &fakeBrain{result: false}})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("a failed posting mission is observed, not a step error: %v", err)
	}
}

func TestPosterNavigationFailureFailsStep(t *testing.T) {
	kv := newMapKV()
	if err := kv.Save(memory.KeyPostContent, "ship it"); err != nil {
		t.Fatal(err)
	}
	p, err := NewPoster("Poster", Deps{Memory: kv, Gateway: &recordingGateway{result: false}, Brain: &fakeBrain{result: true}})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("blocked pre-navigation must fail the step")
	}
}

func TestRegistryLoadMapAndNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents_map.json")
	body := `{"Writer": "writer", "Poster": "poster", "Mystery": "unknown_handle"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(nil)
	r.Register(HandleWriter, []string{NeedMemory}, NewWriterFactory(&scriptedVision{replies: []string{"t", "p"}}, ""))
	r.Register(HandlePoster, []string{NeedMemory, NeedGateway, NeedBrain}, NewPoster)
	if err := r.LoadMap(path); err != nil {
		t.Fatal(err)
	}

	if !r.Known("Writer") || !r.Known("Poster") {
		t.Fatal("mapped agents must be known")
	}
	if r.Known("Mystery") {
		t.Fatal("names bound to unknown handles must stay unknown")
	}
	if r.Known("Ghost") {
		t.Fatal("unmapped name must be unknown")
	}

	a, err := r.New("Writer", Deps{Memory: newMapKV()})
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "Writer" {
		t.Fatalf("agent name = %q", a.Name())
	}
	if _, err := r.New("Ghost", Deps{}); err == nil {
		t.Fatal("unknown agent must error")
	}
}

func TestRegistrySuppliesOnlyDeclaredCollaborators(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents_map.json")
	if err := os.WriteFile(path, []byte(`{"Probe": "probe"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var seen Deps
	r := NewRegistry(nil)
	r.Register("probe", []string{NeedMemory}, func(name string, deps Deps) (Agent, error) {
		seen = deps
		return &Writer{Base: NewBase(name, nil)}, nil
	})
	if err := r.LoadMap(path); err != nil {
		t.Fatal(err)
	}

	full := Deps{Memory: newMapKV(), Gateway: &recordingGateway{}, Brain: &fakeBrain{}}
	if _, err := r.New("Probe", full); err != nil {
		t.Fatal(err)
	}
	if seen.Memory == nil {
		t.Error("declared collaborator missing")
	}
	if seen.Gateway != nil || seen.Brain != nil {
		t.Error("undeclared collaborators must not be supplied")
	}
}

func TestRegistryMissingMapFile(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(HandlePoster, []string{NeedMemory, NeedGateway, NeedBrain}, NewPoster)
	if err := r.LoadMap(filepath.Join(t.TempDir(), "nope.json")); err != nil {
		t.Fatalf("missing map is not fatal: %v", err)
	}
	if r.Known("Poster") {
		t.Fatal("no map means no known agents")
	}
}

func TestRegistryMalformedMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents_map.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(nil)
	if err := r.LoadMap(path); err == nil {
		t.Fatal("malformed map must error")
	}
}
