// Package browser drives a single persistent-profile Chrome session over the
// DevTools protocol: navigation, typing, clicking, element geometry, and
// filtered DOM snapshots with bounding rects.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"agentos/internal/types"
)

// ErrExecutionFailed wraps every driver failure, including timeouts, so
// callers see one failure kind.
var ErrExecutionFailed = errors.New("browser: execution failed")

// Config controls the browser session.
type Config struct {
	// UserDataDir is the persistent profile directory; the user's logged-in
	// session is reused across runs.
	UserDataDir string
	Profile     string
	Bin         string

	NavigateTimeout time.Duration
	ActionTimeout   time.Duration
	WaitTimeout     time.Duration
}

func (c Config) navigateTimeout() time.Duration {
	if c.NavigateTimeout <= 0 {
		return 60 * time.Second
	}
	return c.NavigateTimeout
}

func (c Config) actionTimeout() time.Duration {
	if c.ActionTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ActionTimeout
}

func (c Config) waitTimeout() time.Duration {
	if c.WaitTimeout <= 0 {
		return 15 * time.Second
	}
	return c.WaitTimeout
}

// Driver owns the launched browser and its single page. Operations are
// one-at-a-time; the brain is the only writer during a mission.
type Driver struct {
	cfg     Config
	browser *rod.Browser
	page    *rod.Page
	log     *zap.Logger
}

// Launch starts Chrome headful with the configured user data directory and
// profile, connects over CDP, and binds the initial page.
func Launch(ctx context.Context, cfg Config, log *zap.Logger) (*Driver, error) {
	if cfg.UserDataDir == "" {
		return nil, fmt.Errorf("browser: user data dir is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := launcher.New().Headless(false).UserDataDir(cfg.UserDataDir)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	if cfg.Profile != "" {
		l = l.Set(flags.Flag("profile-directory"), cfg.Profile)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	pages, err := b.Pages()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	var page *rod.Page
	if len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("browser: create page: %w", err)
		}
	}

	log.Info("browser session started",
		zap.String("profile", cfg.Profile),
		zap.String("user_data_dir", cfg.UserDataDir))
	return &Driver{cfg: cfg, browser: b, page: page, log: log}, nil
}

// Page exposes the bound page for collaborators that speak CDP directly
// (display probing, raw input injection).
func (d *Driver) Page() *rod.Page {
	if d == nil {
		return nil
	}
	return d.page
}

// Live reports whether a page is bound and the browser still answers.
func (d *Driver) Live() bool {
	if d == nil || d.browser == nil || d.page == nil {
		return false
	}
	_, err := d.browser.Version()
	return err == nil
}

// Close shuts the browser down. Called once at process end.
func (d *Driver) Close() error {
	if d.browser == nil {
		return nil
	}
	err := d.browser.Close()
	d.browser = nil
	d.page = nil
	return err
}

// Navigate loads a URL and waits for the DOM to settle. DOM stability is
// the DOMContentLoaded-level signal; the full load event can stall on
// third-party subresources the agent does not need.
func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	if d.page == nil {
		return fmt.Errorf("%w: no page", ErrExecutionFailed)
	}
	p := d.page.Context(ctx).Timeout(d.cfg.navigateTimeout())
	if err := p.Navigate(rawURL); err != nil {
		return fmt.Errorf("%w: navigate %s: %v", ErrExecutionFailed, rawURL, err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		return fmt.Errorf("%w: wait dom %s: %v", ErrExecutionFailed, rawURL, err)
	}
	d.log.Debug("navigated", zap.String("url", rawURL))
	return nil
}

// CurrentURL returns the page URL, or "" when no page is live.
func (d *Driver) CurrentURL() string {
	if d.page == nil {
		return ""
	}
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// CurrentHost returns the hostname of the page URL.
func (d *Driver) CurrentHost() string {
	u, err := url.Parse(d.CurrentURL())
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Type types text into the element matching selector.
func (d *Driver) Type(ctx context.Context, selector, text string) error {
	el, err := d.element(ctx, selector, d.cfg.actionTimeout())
	if err != nil {
		return err
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("%w: type into %s: %v", ErrExecutionFailed, selector, err)
	}
	return nil
}

// Click clicks the element matching selector. Force bypasses actionability
// checks by dispatching the click from page script instead.
func (d *Driver) Click(ctx context.Context, selector string, force bool) error {
	el, err := d.element(ctx, selector, d.cfg.actionTimeout())
	if err != nil {
		return err
	}
	if force {
		if _, err := el.Eval(`() => this.click()`); err != nil {
			return fmt.Errorf("%w: forced click %s: %v", ErrExecutionFailed, selector, err)
		}
		return nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("%w: click %s: %v", ErrExecutionFailed, selector, err)
	}
	return nil
}

// ElementRect resolves selector to its bounding box in CSS pixels.
func (d *Driver) ElementRect(ctx context.Context, selector string) (types.Rect, error) {
	el, err := d.element(ctx, selector, d.cfg.actionTimeout())
	if err != nil {
		return types.Rect{}, err
	}
	shape, err := el.Shape()
	if err != nil {
		return types.Rect{}, fmt.Errorf("%w: shape of %s: %v", ErrExecutionFailed, selector, err)
	}
	box := shape.Box()
	if box == nil {
		return types.Rect{}, fmt.Errorf("%w: element %s has no box", ErrExecutionFailed, selector)
	}
	return types.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// InnerText returns the rendered text of the element matching selector.
func (d *Driver) InnerText(ctx context.Context, selector string) (string, error) {
	el, err := d.element(ctx, selector, d.cfg.actionTimeout())
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("%w: text of %s: %v", ErrExecutionFailed, selector, err)
	}
	return text, nil
}

// WaitURL polls until the page URL matches the pattern (substring or
// regular expression) or the wait timeout elapses.
func (d *Driver) WaitURL(ctx context.Context, pattern string) error {
	re, reErr := regexp.Compile(pattern)
	deadline := time.Now().Add(d.cfg.waitTimeout())
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		current := d.CurrentURL()
		if strings.Contains(current, pattern) || (reErr == nil && re.MatchString(current)) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: url %q never matched %q", ErrExecutionFailed, current, pattern)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrExecutionFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

// hasTextRe matches the :has-text('...') predicate the brain is told to use
// for text targeting. Standard CSS has no such pseudo-class, so the driver
// translates it to a selector + text-regex element search.
var hasTextRe = regexp.MustCompile(`^(.*?):has-text\((?:'([^']*)'|"([^"]*)")\)\s*$`)

func (d *Driver) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, error) {
	if d.page == nil {
		return nil, fmt.Errorf("%w: no page", ErrExecutionFailed)
	}
	p := d.page.Context(ctx).Timeout(timeout)

	if m := hasTextRe.FindStringSubmatch(selector); m != nil {
		base := strings.TrimSpace(m[1])
		if base == "" {
			base = "*"
		}
		text := m[2]
		if text == "" {
			text = m[3]
		}
		el, err := p.ElementR(base, regexp.QuoteMeta(text))
		if err != nil {
			return nil, fmt.Errorf("%w: element %s: %v", ErrExecutionFailed, selector, err)
		}
		return el, nil
	}

	el, err := p.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: element %s: %v", ErrExecutionFailed, selector, err)
	}
	return el, nil
}
