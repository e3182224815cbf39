package annotate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// parseInsight decodes model output. The direct parse is authoritative; on
// failure exactly one repair attempt is made for the common malformations
// (truncation mid-string, a dangling key, trailing commas, unbalanced
// braces). Anything still broken is reported as ErrUnparsable.
func parseInsight(raw string) (*insightPayload, bool, error) {
	cleaned := stripFences(raw)

	var p insightPayload
	directErr := json.Unmarshal([]byte(cleaned), &p)
	if directErr == nil {
		return &p, false, nil
	}

	if fixed, changed := repairJSON(cleaned); changed {
		var rp insightPayload
		if err := json.Unmarshal([]byte(fixed), &rp); err == nil {
			return &rp, true, nil
		}
	}
	return nil, false, fmt.Errorf("%w: %v", ErrUnparsable, directErr)
}

// stripFences removes markdown code fences from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

var (
	danglingKeyColon = regexp.MustCompile(`[,{]\s*"(?:[^"\\]|\\.)*"\s*:\s*$`)
	danglingKey      = regexp.MustCompile(`[,{]\s*"(?:[^"\\]|\\.)*"\s*$`)
)

// repairJSON applies the bounded fixups for output truncated at the token
// limit. It reports whether anything was changed; the caller re-parses the
// result and falls back to a placeholder when it is still invalid.
func repairJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return raw, false
	}
	changed := start > 0
	s = s[start:]

	// Scan tracking string state and the open brace/bracket stack.
	inString := false
	escaped := false
	var open []byte
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
			open = append(open, '}')
		case '[':
			open = append(open, ']')
		case '}', ']':
			if len(open) > 0 && open[len(open)-1] == c {
				open = open[:len(open)-1]
			}
		}
	}

	// An unterminated long-text field (lyrics cut mid-line) is the common
	// truncation; close the string where the output ended.
	if inString {
		if escaped {
			s = s[:len(s)-1]
		}
		s += `"`
		changed = true
	}

	s = strings.TrimRight(s, " \t\r\n")

	// A key cut off before its value cannot be completed; drop the fragment.
	if loc := danglingKeyColon.FindStringIndex(s); loc != nil {
		s = s[:loc[0]+1]
		changed = true
	} else if loc := danglingKey.FindStringIndex(s); loc != nil {
		s = s[:loc[0]+1]
		changed = true
	}

	if strings.HasSuffix(s, ",") {
		s = strings.TrimRight(strings.TrimSuffix(s, ","), " \t\r\n")
		changed = true
	}

	for i := len(open) - 1; i >= 0; i-- {
		s += string(open[i])
		changed = true
	}
	return s, changed
}
