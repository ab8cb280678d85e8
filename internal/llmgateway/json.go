package llmgateway

import (
	"encoding/json"
	"strings"
)

// ParseJSON strips common code-fence wrappers (leading ```json or ```,
// trailing ```) then parses the remainder as a JSON object. If the
// remainder is not itself valid JSON, it falls back to extracting the
// first balanced-looking {...} span.
func ParseJSON(text string) (map[string]any, error) {
	stripped := stripCodeFence(text)

	var fields map[string]any
	if err := json.Unmarshal([]byte(stripped), &fields); err == nil {
		return fields, nil
	}

	start := strings.Index(stripped, "{")
	end := strings.LastIndex(stripped, "}")
	if start == -1 || end <= start {
		return nil, errNoJSONObject
	}

	if err := json.Unmarshal([]byte(stripped[start:end+1]), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
