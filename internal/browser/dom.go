package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"

	"agentos/internal/types"
)

// domScript collects the interactive elements of the page: links, buttons,
// inputs, textareas, role=button/link, and anything carrying data-testid,
// restricted to visible elements inside the viewport. Text is trimmed to
// keep prompts compact.
const domScript = `
() => {
	const selector = 'a, button, input, textarea, [role="button"], [role="link"], [data-testid]';
	const results = [];
	for (const el of document.querySelectorAll(selector)) {
		const rect = el.getBoundingClientRect();
		if (rect.width <= 0 || rect.height <= 0 || rect.top < 0 || rect.left < 0) continue;
		const attrs = {};
		for (const name of ['id', 'class', 'role', 'aria-label', 'data-testid', 'name', 'placeholder']) {
			const value = el.getAttribute(name);
			if (value) attrs[name] = value;
		}
		results.push({
			tag: el.tagName.toLowerCase(),
			text: el.innerText ? el.innerText.substring(0, 160) : '',
			attributes: attrs,
			rect: {x: rect.x, y: rect.y, width: rect.width, height: rect.height},
		});
	}
	return results;
}
`

// DOM snapshots the filtered interactive elements of the live page with
// bounding rects in CSS pixels.
func (d *Driver) DOM(ctx context.Context) ([]types.DomNode, error) {
	if d.page == nil {
		return nil, fmt.Errorf("%w: no page", ErrExecutionFailed)
	}

	res, err := d.page.Context(ctx).Timeout(d.cfg.actionTimeout()).Evaluate(&rod.EvalOptions{
		JS:           domScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil, fmt.Errorf("%w: dom snapshot: %v", ErrExecutionFailed, err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal dom snapshot: %v", ErrExecutionFailed, err)
	}

	var nodes []types.DomNode
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return nil, fmt.Errorf("%w: decode dom snapshot: %v", ErrExecutionFailed, err)
	}
	return nodes, nil
}
