// Package executor assembles an agent's layered system prompt and invokes
// its completion capability. Execution failures are contained here: the
// participant always gets a reply, even if it is an apology.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/llm"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/registry"
)

// maxDocumentChars caps how much of each attached context document is
// rendered into the system prompt.
const maxDocumentChars = 3000

// Executor runs one agent definition against a turn's history
type Executor struct {
	completer  capability.Completer
	toolCaller capability.ToolCaller
	tools      *capability.ToolRegistry
	log        zerolog.Logger
}

// New creates an executor over the given capabilities
func New(completer capability.Completer, toolCaller capability.ToolCaller, tools *capability.ToolRegistry) *Executor {
	return &Executor{
		completer:  completer,
		toolCaller: toolCaller,
		tools:      tools,
		log:        logging.Component("executor"),
	}
}

// Run executes the agent against the turn history and returns its reply.
// Any capability failure is converted into an apologetic fallback carrying
// the agent's display name; errors never propagate to the pipeline.
func (e *Executor) Run(ctx context.Context, def *registry.AgentDefinition, history []capability.Exchange, metadata map[string]string) string {
	req := capability.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(def, metadata),
		History:      history,
		Temperature:  def.Params.Temperature,
		MaxTokens:    def.Params.MaxTokens,
		TimeoutSecs:  def.Params.TimeoutSecs,
		MaxRetries:   def.Params.MaxRetries,
	}
	if len(def.ModelOverrides) > 0 {
		e.applyOverrides(&req, def)
	}

	var reply string
	var err error
	if len(def.Tools) > 0 {
		bound := e.tools.Resolve(def.ToolNames())
		if len(bound) < len(def.Tools) {
			e.log.Warn().
				Str("agent", def.Key).
				Int("bound", len(bound)).
				Int("declared", len(def.Tools)).
				Msg("Some declared tools are not registered")
		}
		reply, err = e.toolCaller.CompleteWithTools(ctx, req, bound)
	} else {
		reply, err = e.completer.Complete(ctx, req)
	}

	if err != nil {
		e.log.Error().Str("agent", def.Key).Err(err).Msg("Agent execution failed")
		return FallbackReply(def.Name)
	}
	if strings.TrimSpace(reply) == "" {
		e.log.Warn().Str("agent", def.Key).Msg("Agent produced an empty reply")
		return FallbackReply(def.Name)
	}
	return reply
}

// applyOverrides layers the agent's model override column on top of its base
// parameters. The column is operator-edited JSON, so it goes through the
// same repair fallback as model output; an unparseable value is ignored and
// the base parameters stand.
func (e *Executor) applyOverrides(req *capability.CompletionRequest, def *registry.AgentDefinition) {
	overrides, err := llm.ParseModelOverrides(string(def.ModelOverrides))
	if err != nil {
		e.log.Warn().Str("agent", def.Key).Err(err).Msg("Ignoring unparseable model overrides")
		return
	}

	if v, ok := overrides["temperature"].(float64); ok {
		req.Temperature = v
	}
	if v, ok := overrides["max_tokens"].(float64); ok {
		req.MaxTokens = int(v)
	}
	if v, ok := overrides["timeout_seconds"].(float64); ok {
		req.TimeoutSecs = int(v)
	}
	if v, ok := overrides["max_retries"].(float64); ok {
		req.MaxRetries = int(v)
	}
}

// FallbackReply is the user-facing apology produced when an agent fails
func FallbackReply(agentName string) string {
	return fmt.Sprintf("I'm sorry, the %s assistant could not process your message right now. Please try again in a moment.", agentName)
}

// BuildSystemPrompt assembles the agent's full system instructions: base
// instructions, supplementary blocks grouped by type in the fixed
// presentation order, attached documents by descending priority, the bound
// tool catalogue, and finally any request metadata.
func BuildSystemPrompt(def *registry.AgentDefinition, metadata map[string]string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(def.BaseInstructions))

	for _, promptType := range registry.PromptTypeOrder {
		blocks := blocksOfType(def.Prompts, promptType)
		if len(blocks) == 0 {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(registry.PromptGroupHeaders[promptType])
		for _, block := range blocks {
			b.WriteString("\n")
			b.WriteString(strings.TrimSpace(block.Content))
		}
	}

	if len(def.Documents) > 0 {
		b.WriteString("\n\n## Reference Documents")
		for _, doc := range sortedDocuments(def.Documents) {
			b.WriteString(fmt.Sprintf("\n\n### %s (%s)", doc.Name, doc.Kind))
			if desc := strings.TrimSpace(doc.Description); desc != "" {
				b.WriteString("\n")
				b.WriteString(desc)
			}
			if usage := strings.TrimSpace(doc.UsageInstructions); usage != "" {
				b.WriteString("\nUsage: ")
				b.WriteString(usage)
			}
			b.WriteString("\n")
			b.WriteString(truncate(doc.Content, maxDocumentChars))
		}
	}

	if len(def.Tools) > 0 {
		b.WriteString("\n\n## Available Tools")
		for _, tool := range def.Tools {
			b.WriteString(fmt.Sprintf("\n- %s: %s", tool.Name, tool.Description))
		}
	}

	if len(metadata) > 0 {
		b.WriteString("\n\n## Context")
		for _, key := range sortedKeys(metadata) {
			b.WriteString(fmt.Sprintf("\n%s: %s", key, metadata[key]))
		}
	}

	return b.String()
}

// blocksOfType filters prompt blocks by type, preserving the storage order
// (priority descending, then creation time).
func blocksOfType(blocks []registry.PromptBlock, promptType registry.PromptType) []registry.PromptBlock {
	var out []registry.PromptBlock
	for _, block := range blocks {
		if block.Type == promptType {
			out = append(out, block)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func sortedDocuments(docs []registry.ContextDocument) []registry.ContextDocument {
	out := make([]registry.ContextDocument, len(docs))
	copy(out, docs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncate cuts on a rune boundary so multi-byte content never ends
// mid-character in the prompt.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[truncated]"
}
