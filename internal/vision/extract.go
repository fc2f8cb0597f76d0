package vision

import (
	"encoding/json"
	"strings"
)

// ExtractJSON finds the first balanced payload in a free-form model reply
// that parses as JSON, tolerating surrounding prose and code fences.
// Bracketed prose ahead of the real payload, such as a CSS attribute
// selector the model quotes while reasoning, is skipped.
func ExtractJSON(text string) (string, bool) {
	for offset := 0; offset < len(text); {
		rel := strings.IndexAny(text[offset:], "{[")
		if rel == -1 {
			return "", false
		}
		start := offset + rel
		if candidate, ok := balancedAt(text, start); ok && json.Valid([]byte(candidate)) {
			return candidate, true
		}
		offset = start + 1
	}
	return "", false
}

// balancedAt scans for the balanced object or array opening at start.
func balancedAt(text string, start int) (string, bool) {
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
