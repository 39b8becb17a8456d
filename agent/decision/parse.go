package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNoJSON is returned when model output contains no JSON object.
var ErrNoJSON = errors.New("no json object in model output")

// extractJSON pulls the first JSON object out of free-form model text.
// Code fences are dropped and broken objects go through jsonrepair.
func extractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, ErrNoJSON
	}
	obj := s[start:]
	if end := objectEnd(obj); end > 0 {
		obj = obj[:end]
	}

	if json.Valid([]byte(obj)) {
		return []byte(obj), nil
	}
	repaired, err := jsonrepair.JSONRepair(obj)
	if err != nil {
		return nil, fmt.Errorf("repair json: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repair json: result still invalid")
	}
	return []byte(repaired), nil
}

// objectEnd returns the index just past the brace closing the object that
// starts at s[0], or -1 when it is never closed.
func objectEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
