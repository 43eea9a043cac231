package services

import (
	"encoding/json"
	"errors"
	"strings"
)

// maxVerdictScan bounds how far into a reply the brace scanner looks for an object.
const maxVerdictScan = 64 << 10

var errNullVerdict = errors.New("verdict is null")

// ParseModerationVerdict reads the judge's free-text reply. It strips code fences, tries a
// strict decode, then falls back to the first balanced JSON object in the text. Replies without
// a recognised status are parse failures; nothing is approved or rejected by default.
func ParseModerationVerdict(raw string) (ModerationVerdict, error) {
	text := stripFences(raw)
	if text == "" {
		return ModerationVerdict{}, &ModerationParseError{Raw: raw, Detail: "empty response"}
	}

	fields, err := decodeVerdictObject(text)
	if err != nil {
		candidate, ok := firstJSONObject(text)
		if !ok {
			return ModerationVerdict{}, &ModerationParseError{Raw: raw, Detail: "no JSON object found"}
		}
		fields, err = decodeVerdictObject(candidate)
		if err != nil {
			return ModerationVerdict{}, &ModerationParseError{Raw: raw, Detail: err.Error()}
		}
	}

	rawStatus, ok := fields["status"].(string)
	if !ok {
		return ModerationVerdict{}, &ModerationParseError{Raw: raw, Detail: "status missing"}
	}
	status, ok := parseVerdictStatus(rawStatus)
	if !ok {
		return ModerationVerdict{}, &ModerationParseError{Raw: raw, Detail: "unknown status " + rawStatus}
	}
	reason, _ := fields["reason"].(string)
	if status == VerdictApproved {
		reason = ""
	}
	return ModerationVerdict{Status: status, Reason: reason}, nil
}

func decodeVerdictObject(text string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNullVerdict
	}
	return fields, nil
}

func parseVerdictStatus(value string) (VerdictStatus, bool) {
	normalized := strings.ToLower(strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-' || r == '\t'
	}), " "))
	switch normalized {
	case "approved":
		return VerdictApproved, true
	case "not approved":
		return VerdictNotApproved, true
	default:
		return "", false
	}
}

// stripFences removes markdown code fences, keeping the fenced body when present.
func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// drop the info string, e.g. ```json
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		if info := strings.TrimSpace(body[:nl]); !strings.ContainsAny(info, "{}") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// firstJSONObject returns the first balanced {...} span, ignoring braces inside strings.
func firstJSONObject(text string) (string, bool) {
	if len(text) > maxVerdictScan {
		text = text[:maxVerdictScan]
	}
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return i, true
			}
		}
	}
	return 0, false
}
