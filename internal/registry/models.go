// Package registry loads responder-agent definitions from configuration
// storage and exposes them to the router as an immutable snapshot. When no
// definitions are configured a fixed builtin pair keeps routing functional.
package registry

import (
	"encoding/json"
	"strings"
	"time"
)

// AgentStatus is the activation state of a definition. Only active
// definitions are loaded into the routing option set.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
	AgentTesting  AgentStatus = "testing"
)

// PromptType tags a supplementary instruction block. Blocks are presented in
// a fixed type order, each group under its own header.
type PromptType string

const (
	PromptInstruction PromptType = "instruction"
	PromptConstraint  PromptType = "constraint"
	PromptExample     PromptType = "example"
	PromptTemplate    PromptType = "template"
	PromptFallback    PromptType = "fallback"
	PromptKnowledge   PromptType = "knowledge"
)

// PromptTypeOrder is the presentation order of supplementary blocks
var PromptTypeOrder = []PromptType{
	PromptInstruction,
	PromptConstraint,
	PromptExample,
	PromptTemplate,
	PromptFallback,
	PromptKnowledge,
}

// PromptGroupHeaders maps each block type to its section header
var PromptGroupHeaders = map[PromptType]string{
	PromptInstruction: "## Additional Instructions",
	PromptConstraint:  "## Constraints",
	PromptExample:     "## Examples",
	PromptTemplate:    "## Response Templates",
	PromptFallback:    "## Fallback Behavior",
	PromptKnowledge:   "## Knowledge",
}

// ModelParams are the model parameters of one agent definition
type ModelParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutSecs int     `json:"timeout_seconds"`
	MaxRetries  int     `json:"max_retries"`
}

// PromptBlock is one ordered supplementary instruction block
type PromptBlock struct {
	ID        int64      `json:"id"`
	Type      PromptType `json:"type"`
	Content   string     `json:"content"`
	Priority  int        `json:"priority"`
	CreatedAt time.Time  `json:"created_at"`
}

// ToolBinding names a registered tool the agent may invoke
type ToolBinding struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ContextDocument is an attached document rendered into the system prompt
type ContextDocument struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Kind              string `json:"kind"`
	Description       string `json:"description"`
	UsageInstructions string `json:"usage_instructions"`
	Content           string `json:"content"`
	Priority          int    `json:"priority"`
}

// AgentDefinition is a named, typed responder configuration. Read-only to
// this core; an external administrative surface owns writes.
type AgentDefinition struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Key              string            `json:"key"` // normalized routing key
	TypeTag          string            `json:"type_tag"`
	Status           AgentStatus       `json:"status"`
	Description      string            `json:"description"`
	BaseInstructions string            `json:"base_instructions"`
	Params           ModelParams       `json:"params"`
	ModelOverrides   json.RawMessage   `json:"-"`
	Prompts          []PromptBlock     `json:"prompts"`
	Tools            []ToolBinding     `json:"tools"`
	Documents        []ContextDocument `json:"documents"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ToolNames returns the bound tool names in definition order
func (d *AgentDefinition) ToolNames() []string {
	names := make([]string, 0, len(d.Tools))
	for _, t := range d.Tools {
		names = append(names, t.Name)
	}
	return names
}

// NormalizeKey converts a display name to a routing key: lower-cased with
// whitespace runs collapsed to single underscores.
func NormalizeKey(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "_")
}
