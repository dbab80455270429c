package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Model responses are free text that should contain exactly one JSON object
// (single page) or JSON array (batch). ParseModelJSON is the only place the
// rest of the pipeline is allowed to touch raw response text.

var ErrNoJSON = errors.New("no json payload in response")

// ParseModelJSON extracts the first JSON object or array embedded in free
// text by locating the first '{' or '[' and the matching last '}' or ']'.
func ParseModelJSON(text string) (json.RawMessage, error) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	start, open, close := -1, byte('{'), byte('}')
	switch {
	case objStart < 0 && arrStart < 0:
		return nil, ErrNoJSON
	case objStart < 0, arrStart >= 0 && arrStart < objStart:
		start, open, close = arrStart, '[', ']'
	default:
		start = objStart
	}

	end := strings.LastIndexByte(text, close)
	if end <= start {
		return nil, fmt.Errorf("%w: unbalanced %c%c", ErrNoJSON, open, close)
	}

	raw := json.RawMessage(text[start : end+1])
	if !json.Valid(raw) {
		// Trailing garbage after the payload; walk back to the balanced close.
		if trimmed, ok := trimBalanced(string(raw), open, close); ok {
			return json.RawMessage(trimmed), nil
		}
		return nil, fmt.Errorf("%w: invalid json between %d and %d", ErrNoJSON, start, end)
	}
	return raw, nil
}

// trimBalanced cuts the candidate down to the first balanced open/close span.
func trimBalanced(s string, open, close byte) (string, bool) {
	depth := 0
	inStr := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inStr:
			if c == '\\' {
				i++
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				candidate := s[:i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}

// DecodeObject unmarshals a model response expected to carry one JSON object.
func DecodeObject(text string, v any) error {
	raw, err := ParseModelJSON(text)
	if err != nil {
		return err
	}
	if raw[0] != '{' {
		return fmt.Errorf("%w: expected object, got array", ErrNoJSON)
	}
	return json.Unmarshal(raw, v)
}

// DecodeArray unmarshals a model response expected to carry one JSON array.
func DecodeArray(text string, v any) error {
	raw, err := ParseModelJSON(text)
	if err != nil {
		return err
	}
	if raw[0] != '[' {
		return fmt.Errorf("%w: expected array, got object", ErrNoJSON)
	}
	return json.Unmarshal(raw, v)
}
