package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseToolArguments decodes model-produced tool-call arguments. Models
// occasionally emit almost-JSON (trailing commas, single quotes, markdown
// fences); when plain decoding fails the payload is run through jsonrepair
// before giving up.
func ParseToolArguments(raw string) (map[string]any, error) {
	raw = stripCodeFences(raw)
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to repair tool arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("failed to decode repaired tool arguments: %w", err)
	}
	return args, nil
}

// ParseModelOverrides decodes the optional per-agent model override column,
// applying the same repair fallback as tool arguments.
func ParseModelOverrides(raw string) (map[string]any, error) {
	return ParseToolArguments(raw)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
