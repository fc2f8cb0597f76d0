package brain

import (
	"encoding/json"
	"fmt"
	"strings"

	"agentos/internal/types"
)

const promptHeader = `You are the brain of an autonomous computer-using agent. You see the screen
through the attached screenshot and a list of interactive page elements.
Decide the single next action that makes progress toward the goal.

GOAL: %s

RULES:
- Respond with exactly one JSON object, nothing else:
  {"reasoning": "...", "action": {"name": "...", ...}}
- Action names and their fields:
  BROWSE   {"name": "BROWSE", "url": "https://..."}
  TYPE     {"name": "TYPE", "selector": "...", "text": "..."}
  CLICK    {"name": "CLICK", "selector": "..."}
  TYPE_OS  {"name": "TYPE_OS", "text": "..."}
  CLICK_OS {"name": "CLICK_OS", "x": 0, "y": 0}
  FINISH   {"name": "FINISH", "reason": "..."}
  FAIL     {"name": "FAIL", "reason": "..."}
- Selectors are standard CSS. To target an element by its visible text use
  the form tag:has-text('exact text'). NEVER use :contains().
- Prefer [data-testid="..."] selectors when the element list shows one.
- Before FINISH, verify on the screenshot that the goal's effect is actually
  visible. If a previous action failed, try a different approach instead of
  repeating it.
- Declare FAIL when the goal cannot be achieved from the current state.`

// buildPrompt renders the full step prompt: goal, rules, prior history, and
// a compact listing of the interactive elements that carry visible text.
func (b *Brain) buildPrompt(goal string, snap *types.Snapshot, history []types.HistoryEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, promptHeader, goal)

	if len(history) > 0 {
		sb.WriteString("\n\nHISTORY (oldest first):\n")
		raw, err := json.MarshalIndent(history, "", "  ")
		if err == nil {
			sb.Write(raw)
		}
	}

	elements := compactDOM(snap.DOM)
	if len(elements) > 0 {
		sb.WriteString("\n\nINTERACTIVE ELEMENTS:\n")
		raw, err := json.Marshal(elements)
		if err == nil {
			sb.Write(raw)
		}
	}

	sb.WriteString("\n\nRespond with the JSON object for the next action.")
	return sb.String()
}

type compactNode struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// compactDOM keeps only elements with visible text, dropping geometry the
// model does not need; the screenshot carries layout.
func compactDOM(nodes []types.DomNode) []compactNode {
	out := make([]compactNode, 0, len(nodes))
	for _, n := range nodes {
		if strings.TrimSpace(n.Text) == "" {
			continue
		}
		out = append(out, compactNode{Tag: n.Tag, Text: n.Text, Attributes: n.Attributes})
	}
	return out
}
