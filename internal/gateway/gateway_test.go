package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agentos/internal/types"
)

type fakeBrowser struct {
	navigated []string
	typed     []string
	clicked   []string
	rect      types.Rect
	rectErr   error
	navErr    error
}

func (f *fakeBrowser) Click(ctx context.Context, selector string, force bool) error {
	f.clicked = append(f.clicked, fmt.Sprintf("%s force=%v", selector, force))
	return nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakeBrowser) Type(ctx context.Context, selector, text string) error {
	f.typed = append(f.typed, selector+"="+text)
	return nil
}

func (f *fakeBrowser) ElementRect(ctx context.Context, selector string) (types.Rect, error) {
	return f.rect, f.rectErr
}

type fakeOSInput struct {
	clicks [][2]int
	typed  []string
}

func (f *fakeOSInput) Click(ctx context.Context, x, y int) error {
	f.clicks = append(f.clicks, [2]int{x, y})
	return nil
}

func (f *fakeOSInput) Type(ctx context.Context, text string, d time.Duration) error {
	f.typed = append(f.typed, text)
	return nil
}

type recordingApprover struct {
	approve bool
	kinds   []types.Kind
	values  []string
}

func (r *recordingApprover) ApproveAction(ctx context.Context, agent string, kind types.Kind, value, taskContext string) bool {
	r.kinds = append(r.kinds, kind)
	r.values = append(r.values, value)
	return r.approve
}

func display125() types.DisplayContext {
	return types.DisplayContext{ScalingFactor: 1.25, Resolution: [2]int{2400, 1350}}
}

func TestClickWebResolvesScaledCenter(t *testing.T) {
	b := &fakeBrowser{rect: types.Rect{X: 500, Y: 200, Width: 100, Height: 40}}
	osIn := &fakeOSInput{}
	ap := &recordingApprover{approve: true}
	g := New(b, osIn, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Brain", types.ClickWeb{Selector: "[data-testid=\"tweetButton\"]"}, "post it")
	if !ok {
		t.Fatal("expected success")
	}
	if len(osIn.clicks) != 1 || osIn.clicks[0] != [2]int{440, 176} {
		t.Fatalf("clicks = %v, want [[440 176]]", osIn.clicks)
	}
	// The approver sees resolved coordinates, never the selector.
	if len(ap.values) != 1 || ap.values[0] != "440,176" {
		t.Fatalf("approval values = %v, want [440,176]", ap.values)
	}
	if ap.kinds[0] != types.KindClickWeb {
		t.Fatalf("approval kind = %v", ap.kinds[0])
	}
}

func TestClickWebForcedRoutesThroughBrowser(t *testing.T) {
	b := &fakeBrowser{rect: types.Rect{X: 500, Y: 200, Width: 100, Height: 40}}
	osIn := &fakeOSInput{}
	ap := &recordingApprover{approve: true}
	g := New(b, osIn, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Brain", types.ClickWeb{Selector: "[data-testid=\"tweetButton\"]", Force: true}, "post it")
	if !ok {
		t.Fatal("expected success")
	}
	if len(osIn.clicks) != 0 {
		t.Fatalf("forced click must not use the OS route, got %v", osIn.clicks)
	}
	if len(b.clicked) != 1 || b.clicked[0] != `[data-testid="tweetButton"] force=true` {
		t.Fatalf("browser clicks = %v", b.clicked)
	}
	// Approval still runs on the resolved coordinates.
	if len(ap.values) != 1 || ap.values[0] != "440,176" {
		t.Fatalf("approval values = %v", ap.values)
	}
}

func TestClickWebSelectorFailureSkipsApproval(t *testing.T) {
	b := &fakeBrowser{rectErr: errors.New("no such element")}
	ap := &recordingApprover{approve: true}
	g := New(b, &fakeOSInput{}, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Brain", types.ClickWeb{Selector: "#gone"}, "post it")
	if ok {
		t.Fatal("unresolvable selector must fail")
	}
	if len(ap.kinds) != 0 {
		t.Fatal("approver must not be consulted for unresolvable selectors")
	}
}

func TestBlockedActionNeverExecutes(t *testing.T) {
	b := &fakeBrowser{rect: types.Rect{X: 10, Y: 10, Width: 10, Height: 10}}
	osIn := &fakeOSInput{}
	ap := &recordingApprover{approve: false}
	g := New(b, osIn, ap, display125(), nil)

	if g.RequestAction(context.Background(), "Brain", types.ClickWeb{Selector: "button"}, "delete it") {
		t.Fatal("blocked action must return false")
	}
	if len(osIn.clicks) != 0 {
		t.Fatal("blocked action must not reach the executor")
	}
}

func TestBrowseApprovedThenNavigates(t *testing.T) {
	b := &fakeBrowser{}
	ap := &recordingApprover{approve: true}
	g := New(b, &fakeOSInput{}, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Poster", types.Browse{URL: "https://x.com"}, "post it")
	if !ok {
		t.Fatal("expected success")
	}
	if len(b.navigated) != 1 || b.navigated[0] != "https://x.com" {
		t.Fatalf("navigated = %v", b.navigated)
	}
	if ap.values[0] != "https://x.com" {
		t.Fatalf("approval value = %q", ap.values[0])
	}
}

func TestExecutionFailureReturnsFalse(t *testing.T) {
	b := &fakeBrowser{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	ap := &recordingApprover{approve: true}
	g := New(b, &fakeOSInput{}, ap, display125(), nil)

	if g.RequestAction(context.Background(), "Poster", types.Browse{URL: "https://bad.invalid"}, "post it") {
		t.Fatal("executor failure must surface as false")
	}
}

func TestTypeWebApprovalSeesText(t *testing.T) {
	b := &fakeBrowser{}
	ap := &recordingApprover{approve: true}
	g := New(b, &fakeOSInput{}, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Brain", types.TypeWeb{Selector: "#box", Text: "hello world"}, "fill the form")
	if !ok {
		t.Fatal("expected success")
	}
	if ap.values[0] != "hello world" {
		t.Fatalf("approval value = %q, want the typed text", ap.values[0])
	}
	if len(b.typed) != 1 || b.typed[0] != "#box=hello world" {
		t.Fatalf("typed = %v", b.typed)
	}
}

func TestClickOSClampedToLogicalResolution(t *testing.T) {
	osIn := &fakeOSInput{}
	ap := &recordingApprover{approve: true}
	g := New(&fakeBrowser{}, osIn, ap, display125(), nil)

	ok := g.RequestAction(context.Background(), "Brain", types.ClickOS{X: 5000, Y: 50}, "open the menu")
	if !ok {
		t.Fatal("expected success")
	}
	if osIn.clicks[0] != [2]int{1919, 50} {
		t.Fatalf("clicks = %v, want clamped [1919 50]", osIn.clicks)
	}
	if ap.values[0] != "1919,50" {
		t.Fatalf("approval value = %q, want the clamped coordinates", ap.values[0])
	}
}

func TestNonExecutableKindsRejected(t *testing.T) {
	ap := &recordingApprover{approve: true}
	g := New(&fakeBrowser{}, &fakeOSInput{}, ap, display125(), nil)

	for _, act := range []types.Action{types.Finish{Reason: "done"}, types.Fail{Reason: "stuck"}} {
		if g.RequestAction(context.Background(), "Brain", act, "task") {
			t.Fatalf("%T must be rejected", act)
		}
	}
	if len(ap.kinds) != 0 {
		t.Fatal("terminal markers must not reach the approver")
	}
}

func TestInvalidActionRejected(t *testing.T) {
	ap := &recordingApprover{approve: true}
	g := New(&fakeBrowser{}, &fakeOSInput{}, ap, display125(), nil)

	if g.RequestAction(context.Background(), "Brain", types.Browse{}, "task") {
		t.Fatal("invalid action must be rejected")
	}
	if g.RequestAction(context.Background(), "Brain", nil, "task") {
		t.Fatal("nil action must be rejected")
	}
}
