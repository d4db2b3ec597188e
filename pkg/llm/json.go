package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// leadingThink matches a reasoning block at the start of a response.
var leadingThink = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// ExtractJSON returns the first balanced, valid JSON object or array in response.
// Leading <think> blocks, markdown fences and surrounding prose are ignored.
func ExtractJSON(response string) (string, error) {
	cleaned := leadingThink.ReplaceAllString(response, "")

	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' && cleaned[i] != '[' {
			continue
		}
		if candidate, ok := balanced(cleaned[i:]); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if trimmed := strings.TrimSpace(cleaned); json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// balanced returns the prefix of s that closes the bracket s starts with.
func balanced(s string) (string, bool) {
	open := s[0]
	close := byte('}')
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from response and decodes it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T
	raw, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
