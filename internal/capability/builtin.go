package capability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// HistoryReader provides read access to recent conversation messages for the
// conversation_history tool. Implemented by the conversation storage layer.
type HistoryReader interface {
	RecentMessageContents(ctx context.Context, participant string, limit int) ([]string, error)
}

// BuiltinTools returns the static tool table registered at startup. Agent
// definitions bind to these by name.
func BuiltinTools(history HistoryReader) []Tool {
	return []Tool{
		&currentDatetimeTool{},
		&conversationHistoryTool{history: history},
	}
}

type currentDatetimeTool struct{}

func (t *currentDatetimeTool) Name() string { return "current_datetime" }

func (t *currentDatetimeTool) Description() string {
	return "Returns the current date and time, including the weekday. Use it to answer questions about deadlines or schedules."
}

func (t *currentDatetimeTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *currentDatetimeTool) Invoke(_ context.Context, _ map[string]any) (string, error) {
	now := time.Now()
	return fmt.Sprintf("%s (%s)", now.Format(time.RFC3339), now.Weekday()), nil
}

type conversationHistoryTool struct {
	history HistoryReader
}

func (t *conversationHistoryTool) Name() string { return "conversation_history" }

func (t *conversationHistoryTool) Description() string {
	return "Fetches the most recent messages exchanged with a participant. Use it when earlier context is needed to answer."
}

func (t *conversationHistoryTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"participant": map[string]any{
				"type":        "string",
				"description": "Phone or handle of the participant",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of messages to return (default 10)",
			},
		},
		"required": []string{"participant"},
	}
}

func (t *conversationHistoryTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	participant, _ := args["participant"].(string)
	if strings.TrimSpace(participant) == "" {
		return "", fmt.Errorf("participant argument is required")
	}

	limit := 10
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	contents, err := t.history.RecentMessageContents(ctx, participant, limit)
	if err != nil {
		return "", fmt.Errorf("failed to fetch history: %w", err)
	}
	if len(contents) == 0 {
		return "No previous messages found.", nil
	}
	return strings.Join(contents, "\n"), nil
}
