// Package supervisor is the safety layer every side effect passes through.
// It classifies requests by risk, auto-approves the cheap ones, and performs
// multimodal visual validation of high-risk clicks against the latest
// perception snapshot. Every verdict is journaled.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentos/internal/types"
	"agentos/internal/vision"
)

// RiskClass is the two-level classification of an action request.
type RiskClass string

const (
	RiskLow  RiskClass = "Low"
	RiskHigh RiskClass = "High"
)

// Verdicts recorded in the decision journal.
const (
	VerdictApproved = "approved"
	VerdictBlocked  = "blocked"
)

// Decision is one journaled verdict.
type Decision struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Value     string    `json:"value"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultRiskKeywords is the closed keyword set that marks a task as
// committing or publishing something.
var DefaultRiskKeywords = []string{
	"post", "delete", "confirm", "purchase", "send", "submit",
	"login", "password", "credentials", "pay", "buy", "approve",
}

// Supervisor holds the latest perception snapshot and the decision journal.
type Supervisor struct {
	vision   vision.Client
	display  types.DisplayContext
	keywords []string
	journal  *Journal
	log      *zap.Logger

	mu        sync.Mutex
	snapshot  *types.Snapshot
	decisions []Decision
}

// New builds a supervisor. The display context maps logical coordinates onto
// captured frames during visual validation; a zero value means no scaling.
// The journal may be nil (decisions are still kept in process); keywords
// default to the built-in set.
func New(visionClient vision.Client, display types.DisplayContext, keywords []string, journal *Journal, log *zap.Logger) *Supervisor {
	if len(keywords) == 0 {
		keywords = DefaultRiskKeywords
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{vision: visionClient, display: display, keywords: keywords, journal: journal, log: log}
}

// UpdatePerception overwrites the single latest-snapshot slot. The brain
// publishes here before any approval call of the same step.
func (s *Supervisor) UpdatePerception(snap *types.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	s.log.Debug("perception updated")
}

// Classify returns the risk class for an action request. Only click and
// type actions are candidates; everything else is Low by definition.
func (s *Supervisor) Classify(kind types.Kind, value, taskContext string) RiskClass {
	switch kind {
	case types.KindClickOS, types.KindClickWeb, types.KindTypeOS, types.KindTypeWeb:
	default:
		return RiskLow
	}

	haystack := strings.ToLower(taskContext)
	if kind == types.KindTypeOS || kind == types.KindTypeWeb {
		haystack += " " + strings.ToLower(value)
	}
	for _, kw := range s.keywords {
		if strings.Contains(haystack, kw) {
			return RiskHigh
		}
	}
	return RiskLow
}

// ApproveAction returns the verdict for one requested side effect. It never
// returns an error to the gateway: a failure anywhere is a blocked verdict
// with a journaled reason.
func (s *Supervisor) ApproveAction(ctx context.Context, agent string, kind types.Kind, value, taskContext string) bool {
	risk := s.Classify(kind, value, taskContext)
	if risk == RiskLow {
		s.record(agent, kind, value, VerdictApproved, "auto-approved")
		return true
	}

	switch kind {
	case types.KindClickOS, types.KindClickWeb:
		return s.approveClick(ctx, agent, kind, value, taskContext)
	default:
		return s.approveTyping(agent, kind, value)
	}
}

// approveClick performs visual validation of a high-risk click. Absent
// perception is the one fatal precondition here.
func (s *Supervisor) approveClick(ctx context.Context, agent string, kind types.Kind, value, taskContext string) bool {
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()

	if snap == nil {
		s.record(agent, kind, value, VerdictBlocked, "missing perception")
		return false
	}

	x, y, err := parseCoords(value)
	if err != nil {
		s.record(agent, kind, value, VerdictBlocked, fmt.Sprintf("invalid coordinate format: %v", err))
		return false
	}

	approved, reason := s.validateClick(ctx, snap, x, y, taskContext)
	verdict := VerdictBlocked
	if approved {
		verdict = VerdictApproved
	}
	s.record(agent, kind, value, verdict, reason)
	return approved
}

// approveTyping gates high-risk typing on a minimum of 3 significant
// characters. Typing never triggers visual validation.
func (s *Supervisor) approveTyping(agent string, kind types.Kind, value string) bool {
	significant := 0
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			significant++
		}
	}
	if significant < 3 {
		s.record(agent, kind, value, VerdictBlocked, "invalid content")
		return false
	}
	s.record(agent, kind, value, VerdictApproved, "content check passed")
	return true
}

const validatePromptFmt = `You are a meticulous safety supervisor for an autonomous agent.
The agent wants to perform a mouse click at pixel coordinates (x=%d, y=%d) of the attached screenshot.
The agent's current task is: %q.

Analyze the screenshot. Is there a clearly clickable and relevant UI element at or very near these exact coordinates?

Respond with a single JSON object:
{"decision": "Yes" or "No", "reason": "..."}`

// frameCoords maps logical click coordinates onto the captured frame. The
// gateway derives logical coordinates from the CSS rect center divided by
// the scaling factor, and the frame is the viewport captured at device
// resolution, so the inverse is two multiplications by the factor. The
// result is clamped to the frame bounds.
func (s *Supervisor) frameCoords(snap *types.Snapshot, x, y int) (int, int) {
	scale := s.display.ScalingFactor
	if scale <= 0 {
		scale = 1.0
	}
	fx := int(math.Round(float64(x) * scale * scale))
	fy := int(math.Round(float64(y) * scale * scale))
	fx, fy = max(fx, 0), max(fy, 0)
	if snap.Width > 0 {
		fx = min(fx, snap.Width-1)
	}
	if snap.Height > 0 {
		fy = min(fy, snap.Height-1)
	}
	return fx, fy
}

func (s *Supervisor) validateClick(ctx context.Context, snap *types.Snapshot, x, y int, taskContext string) (bool, string) {
	if s.vision == nil {
		return false, "vision unavailable"
	}

	fx, fy := s.frameCoords(snap, x, y)
	prompt := fmt.Sprintf(validatePromptFmt, fx, fy, taskContext)
	reply, err := s.vision.Query(ctx, snap.Frame, prompt)
	if err != nil {
		s.log.Warn("visual validation query failed", zap.Error(err))
		return false, "vision unavailable"
	}

	raw, ok := vision.ExtractJSON(reply)
	if !ok {
		return false, "unparseable"
	}
	var parsed struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return false, "unparseable"
	}

	reason := parsed.Reason
	if reason == "" {
		reason = "no reason provided"
	}
	if strings.EqualFold(strings.TrimSpace(parsed.Decision), "yes") {
		return true, reason
	}
	return false, reason
}

// Decisions returns a copy of the in-process journal.
func (s *Supervisor) Decisions() []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

func (s *Supervisor) record(agent string, kind types.Kind, value, verdict, reason string) {
	d := Decision{
		ID:        uuid.NewString(),
		Agent:     agent,
		Action:    string(kind),
		Value:     value,
		Verdict:   verdict,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	s.mu.Lock()
	s.decisions = append(s.decisions, d)
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Append(d); err != nil {
			s.log.Warn("journal append failed", zap.Error(err))
		}
	}
	s.log.Info("decision",
		zap.String("agent", agent),
		zap.String("action", string(kind)),
		zap.String("verdict", verdict),
		zap.String("reason", reason))
}

func parseCoords(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want \"x,y\", got %q", value)
	}
	var x, y int
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &x); err != nil {
		return 0, 0, fmt.Errorf("bad x in %q", value)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &y); err != nil {
		return 0, 0, fmt.Errorf("bad y in %q", value)
	}
	return x, y, nil
}
