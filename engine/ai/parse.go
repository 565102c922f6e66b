package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseJSON extracts a JSON object from raw model output. Models wrap
// answers in markdown fences or prose more often than not, so the parse is
// deliberately tolerant: strip fences, cut to the outermost braces, then
// repair trailing commas and friends if a strict parse still fails.
func ParseJSON(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	text = stripFences(text)

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("unparseable llm response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("unparseable llm response after repair: %w", err)
	}
	return out, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// FloatField reads a numeric field from a parsed response, tolerating both
// float and string encodings.
func FloatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	}
	return 0
}

// StringField reads a string field from a parsed response.
func StringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// BoolField reads a boolean field, tolerating string encodings.
func BoolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return false
}
