package inference

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnparseable is returned when model output holds no JSON value
var ErrUnparseable = errors.New("model returned unparseable JSON")

var fenceRegex = regexp.MustCompile("```(?:json)?\\s*")

// ExtractJSON decodes the JSON value in a model reply. Markdown fences are
// stripped; if the remainder is not JSON, the bracketed span that opens first
// (the outermost value) is tried, then the other kind.
func ExtractJSON(text string) (any, error) {
	cleaned := fenceRegex.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(strings.ReplaceAll(cleaned, "```", ""))

	if v, ok := decode(cleaned); ok {
		return v, nil
	}

	spans := [2][2]byte{{'{', '}'}, {'[', ']'}}
	obj, arr := strings.IndexByte(cleaned, '{'), strings.IndexByte(cleaned, '[')
	if arr >= 0 && (obj < 0 || arr < obj) {
		spans[0], spans[1] = spans[1], spans[0]
	}
	for _, sp := range spans {
		if v, ok := decodeSpan(cleaned, sp[0], sp[1]); ok {
			return v, nil
		}
	}
	return nil, ErrUnparseable
}

func decodeSpan(s string, lo, hi byte) (any, bool) {
	start := strings.IndexByte(s, lo)
	end := strings.LastIndexByte(s, hi)
	if start < 0 || end <= start {
		return nil, false
	}
	return decode(s[start : end+1])
}

func decode(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
