package brain

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"agentos/internal/types"
)

func TestMain(m *testing.M) {
	// The opencensus worker goroutine is started in an init() of a
	// transitive dependency (via google.golang.org/genai) and cannot be
	// stopped by the code under test.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type seqVision struct {
	replies []string
	err     error
	calls   int
}

func (s *seqVision) Query(ctx context.Context, frame []byte, prompt string, models ...string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.replies) {
		i = len(s.replies) - 1
	}
	return s.replies[i], nil
}

type fakePerceiver struct {
	calls int
	err   error
}

func (f *fakePerceiver) Capture(ctx context.Context) (*types.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &types.Snapshot{Frame: []byte("frame"), DOM: []types.DomNode{
		{Tag: "button", Text: "Post", Attributes: map[string]string{"data-testid": "tweetButton"}},
		{Tag: "input", Text: ""},
	}}, nil
}

type fakeExecutor struct {
	actions []types.Action
	results []bool
}

func (f *fakeExecutor) RequestAction(ctx context.Context, agent string, act types.Action, taskContext string) bool {
	f.actions = append(f.actions, act)
	if len(f.results) >= len(f.actions) {
		return f.results[len(f.actions)-1]
	}
	return true
}

type countingSink struct {
	// executorCallsAtUpdate records how many actions had run when each
	// snapshot arrived, proving perception precedes the step's action.
	executorCallsAtUpdate []int
	executor              *fakeExecutor
}

func (c *countingSink) UpdatePerception(snap *types.Snapshot) {
	c.executorCallsAtUpdate = append(c.executorCallsAtUpdate, len(c.executor.actions))
}

type fixedLocator struct{ host string }

func (f fixedLocator) CurrentHost() string { return f.host }

func testConfig() Config {
	return Config{MaxSteps: 15, StepPause: time.Millisecond}
}

func TestRunMissionStraightPath(t *testing.T) {
	vis := &seqVision{replies: []string{
		`{"reasoning": "open the site", "action": {"name": "BROWSE", "url": "https://x.com"}}`,
		`{"reasoning": "type the post", "action": {"name": "TYPE", "selector": "[data-testid=\"tweetTextarea_0\"]", "text": "hello"}}`,
		`{"reasoning": "submit", "action": {"name": "CLICK", "selector": "[data-testid=\"tweetButton\"]"}}`,
		`{"reasoning": "post is visible on the timeline", "action": {"name": "FINISH", "reason": "posted"}}`,
	}}
	perceiver := &fakePerceiver{}
	executor := &fakeExecutor{}
	sink := &countingSink{executor: executor}
	b := New(testConfig(), vis, perceiver, executor, sink, fixedLocator{host: "example.com"}, nil)

	if !b.RunMission(context.Background(), "post hello") {
		t.Fatal("mission should finish")
	}
	if len(executor.actions) != 3 {
		t.Fatalf("executed %d actions, want 3", len(executor.actions))
	}
	if _, ok := executor.actions[0].(types.Browse); !ok {
		t.Fatalf("first action = %T, want Browse", executor.actions[0])
	}
	if _, ok := executor.actions[2].(types.ClickWeb); !ok {
		t.Fatalf("third action = %T, want ClickWeb", executor.actions[2])
	}
	// Each snapshot reaches the sink before the step's own action runs.
	want := []int{0, 1, 2, 3}
	for i, n := range sink.executorCallsAtUpdate {
		if n != want[i] {
			t.Fatalf("snapshot %d arrived after %d actions, want %d", i, n, want[i])
		}
	}
}

func TestRunMissionStopsOnBlockedAction(t *testing.T) {
	vis := &seqVision{replies: []string{
		`{"reasoning": "open", "action": {"name": "BROWSE", "url": "https://x.com"}}`,
		`{"reasoning": "click", "action": {"name": "CLICK", "selector": "button"}}`,
	}}
	executor := &fakeExecutor{results: []bool{true, false}}
	b := New(testConfig(), vis, &fakePerceiver{}, executor, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "post it") {
		t.Fatal("blocked action must end the mission unsuccessfully")
	}
	if len(executor.actions) != 2 {
		t.Fatalf("executed %d actions, want 2 (stop right after the block)", len(executor.actions))
	}
}

func TestRunMissionExhaustsStepBudget(t *testing.T) {
	vis := &seqVision{replies: []string{
		`{"reasoning": "scroll more", "action": {"name": "CLICK", "selector": "button"}}`,
	}}
	executor := &fakeExecutor{}
	b := New(testConfig(), vis, &fakePerceiver{}, executor, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "never finishes") {
		t.Fatal("budget exhaustion is a failure")
	}
	if len(executor.actions) != 15 {
		t.Fatalf("executed %d actions, want exactly the 15-step budget", len(executor.actions))
	}
}

func TestRunMissionFailDecision(t *testing.T) {
	vis := &seqVision{replies: []string{
		`{"reasoning": "login wall", "action": {"name": "FAIL", "reason": "cannot proceed"}}`,
	}}
	executor := &fakeExecutor{}
	b := New(testConfig(), vis, &fakePerceiver{}, executor, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "post it") {
		t.Fatal("FAIL decision must end unsuccessfully")
	}
	if len(executor.actions) != 0 {
		t.Fatal("FAIL must not execute anything")
	}
}

func TestRunMissionParsesProseWrappedReply(t *testing.T) {
	vis := &seqVision{replies: []string{
		"Here is my decision:\n```json\n{\"reasoning\": \"done already\", \"action\": {\"name\": \"FINISH\", \"reason\": \"goal visible\"}}\n```",
	}}
	b := New(testConfig(), vis, &fakePerceiver{}, &fakeExecutor{}, nil, fixedLocator{}, nil)

	if !b.RunMission(context.Background(), "check the page") {
		t.Fatal("fenced JSON must still parse")
	}
}

func TestRunMissionUnparseableReplyFails(t *testing.T) {
	vis := &seqVision{replies: []string{"I would probably click the big blue button."}}
	executor := &fakeExecutor{}
	b := New(testConfig(), vis, &fakePerceiver{}, executor, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "post it") {
		t.Fatal("unparseable reply must fail the mission")
	}
	if len(executor.actions) != 0 {
		t.Fatal("nothing may execute on an unparseable reply")
	}
}

func TestRunMissionVisionErrorFails(t *testing.T) {
	vis := &seqVision{err: errors.New("quota exceeded")}
	b := New(testConfig(), vis, &fakePerceiver{}, &fakeExecutor{}, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "post it") {
		t.Fatal("vision failure must fail the mission")
	}
}

func TestRunMissionPerceptionErrorFails(t *testing.T) {
	b := New(testConfig(), &seqVision{replies: []string{"{}"}}, &fakePerceiver{err: errors.New("no frame")}, &fakeExecutor{}, nil, fixedLocator{}, nil)

	if b.RunMission(context.Background(), "post it") {
		t.Fatal("perception failure must fail the mission")
	}
}

func TestForceClickOnListedHosts(t *testing.T) {
	cfg := testConfig()
	cfg.ForceClickHosts = []string{"x.com", "twitter.com"}
	vis := &seqVision{replies: []string{
		`{"reasoning": "click", "action": {"name": "CLICK", "selector": "button"}}`,
		`{"reasoning": "done", "action": {"name": "FINISH", "reason": "ok"}}`,
	}}

	for host, wantForce := range map[string]bool{
		"x.com":       true,
		"api.x.com":   true,
		"example.com": false,
	} {
		executor := &fakeExecutor{}
		b := New(cfg, &seqVision{replies: vis.replies}, &fakePerceiver{}, executor, nil, fixedLocator{host: host}, nil)
		if !b.RunMission(context.Background(), "post it") {
			t.Fatalf("host %s: mission should finish", host)
		}
		click, ok := executor.actions[0].(types.ClickWeb)
		if !ok {
			t.Fatalf("host %s: action = %T", host, executor.actions[0])
		}
		if click.Force != wantForce {
			t.Errorf("host %s: Force = %v, want %v", host, click.Force, wantForce)
		}
	}
}

func TestRunMissionHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := New(testConfig(), &seqVision{replies: []string{"{}"}}, &fakePerceiver{}, &fakeExecutor{}, nil, fixedLocator{}, nil)

	if b.RunMission(ctx, "post it") {
		t.Fatal("cancelled mission must fail")
	}
}
