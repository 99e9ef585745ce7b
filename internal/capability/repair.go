package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"replypilot/internal/domain"
)

// ExtractJSON normalizes raw model output into a JSON object. Models wrap
// JSON in markdown fences or surround it with prose; the repair list is
// bounded and explicit, tried in order:
//  1. the trimmed content as-is
//  2. the content inside a markdown code fence
//  3. the first balanced {...} object found by a bracket scan
//
// Anything that survives none of the three is a malformed result.
func ExtractJSON(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty response", domain.ErrMalformedResult)
	}

	if raw, ok := tryObject(content); ok {
		return raw, nil
	}

	if stripped := stripCodeFence(content); stripped != content {
		if raw, ok := tryObject(stripped); ok {
			return raw, nil
		}
	}

	if start, end := findObjectBounds(content); start >= 0 && end > start {
		if raw, ok := tryObject(content[start:end]); ok {
			return raw, nil
		}
	}

	return nil, fmt.Errorf("%w: no JSON object in %d bytes of output", domain.ErrMalformedResult, len(content))
}

// tryObject reports whether s is a valid JSON object.
func tryObject(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	if !json.Valid([]byte(s)) {
		return nil, false
	}
	return []byte(s), true
}

// stripCodeFence removes one surrounding markdown code fence, with or
// without a language tag.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	if !strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		return s
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

// findObjectBounds locates the first balanced top-level {...} in s,
// skipping braces inside string literals. Returns start and end+1, or
// (-1, -1) when none is found.
func findObjectBounds(s string) (int, int) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return -1, -1
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return start, i + 1
				}
			}
		}
	}
	return -1, -1
}
