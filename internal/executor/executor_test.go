package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/registry"
)

type fakeCompleter struct {
	reply string
	err   error
	req   capability.CompletionRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req capability.CompletionRequest) (string, error) {
	f.req = req
	return f.reply, f.err
}

type fakeToolCaller struct {
	reply string
	err   error
	tools []capability.Tool
}

func (f *fakeToolCaller) CompleteWithTools(ctx context.Context, req capability.CompletionRequest, tools []capability.Tool) (string, error) {
	f.tools = tools
	return f.reply, f.err
}

type stubTool struct{ name string }

func (s stubTool) Name() string               { return s.name }
func (s stubTool) Description() string        { return "stub" }
func (s stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s stubTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return "", nil
}

func baseDef() *registry.AgentDefinition {
	return &registry.AgentDefinition{
		Name:             "Billing",
		Key:              "billing",
		BaseInstructions: "You handle billing questions.",
		Params:           registry.ModelParams{Temperature: 0.2, MaxTokens: 512},
	}
}

func TestRun_PassesModelParams(t *testing.T) {
	completer := &fakeCompleter{reply: "done"}
	e := New(completer, &fakeToolCaller{}, capability.NewToolRegistry())

	reply := e.Run(context.Background(), baseDef(), []capability.Exchange{
		{Role: capability.RoleUser, Content: "hi"},
	}, nil)

	assert.Equal(t, "done", reply)
	assert.Equal(t, 0.2, completer.req.Temperature)
	assert.Equal(t, 512, completer.req.MaxTokens)
	assert.Contains(t, completer.req.SystemPrompt, "You handle billing questions.")
}

func TestRun_ModelOverridesWinOverBaseParams(t *testing.T) {
	completer := &fakeCompleter{reply: "done"}
	e := New(completer, &fakeToolCaller{}, capability.NewToolRegistry())

	def := baseDef()
	// Trailing comma exercises the repair path operator-edited JSON needs.
	def.ModelOverrides = []byte(`{"temperature": 0.9, "max_tokens": 256,}`)

	e.Run(context.Background(), def, nil, nil)

	assert.Equal(t, 0.9, completer.req.Temperature)
	assert.Equal(t, 256, completer.req.MaxTokens)
	// Keys the overrides do not name keep their base values.
	assert.Equal(t, 0, completer.req.TimeoutSecs)
}

func TestRun_UnparseableOverridesKeepBaseParams(t *testing.T) {
	completer := &fakeCompleter{reply: "done"}
	e := New(completer, &fakeToolCaller{}, capability.NewToolRegistry())

	def := baseDef()
	def.ModelOverrides = []byte(`[1, 2`)

	e.Run(context.Background(), def, nil, nil)

	assert.Equal(t, 0.2, completer.req.Temperature)
	assert.Equal(t, 512, completer.req.MaxTokens)
}

func TestRun_FailureYieldsApologyWithAgentName(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model timeout")}
	e := New(completer, &fakeToolCaller{}, capability.NewToolRegistry())

	reply := e.Run(context.Background(), baseDef(), nil, nil)

	assert.Contains(t, reply, "Billing")
	assert.Contains(t, reply, "sorry")
}

func TestRun_EmptyReplyYieldsApology(t *testing.T) {
	completer := &fakeCompleter{reply: "   "}
	e := New(completer, &fakeToolCaller{}, capability.NewToolRegistry())

	reply := e.Run(context.Background(), baseDef(), nil, nil)
	assert.Equal(t, FallbackReply("Billing"), reply)
}

func TestRun_ToolBoundAgentUsesToolCaller(t *testing.T) {
	tools := capability.NewToolRegistry()
	require.NoError(t, tools.Register(stubTool{name: "current_datetime"}))

	toolCaller := &fakeToolCaller{reply: "it is noon"}
	e := New(&fakeCompleter{}, toolCaller, tools)

	def := baseDef()
	def.Tools = []registry.ToolBinding{
		{Name: "current_datetime", Description: "clock"},
		{Name: "not_registered", Description: "missing"},
	}

	reply := e.Run(context.Background(), def, nil, nil)

	assert.Equal(t, "it is noon", reply)
	// Unregistered bindings are skipped, not fatal.
	require.Len(t, toolCaller.tools, 1)
	assert.Equal(t, "current_datetime", toolCaller.tools[0].Name())
}

func TestBuildSystemPrompt_GroupOrderAndHeaders(t *testing.T) {
	now := time.Now()
	def := baseDef()
	def.Prompts = []registry.PromptBlock{
		{Type: registry.PromptKnowledge, Content: "Refund window is 14 days.", CreatedAt: now},
		{Type: registry.PromptConstraint, Content: "Never quote prices.", CreatedAt: now},
		{Type: registry.PromptInstruction, Content: "Greet by name.", CreatedAt: now},
	}

	prompt := BuildSystemPrompt(def, nil)

	instructions := strings.Index(prompt, "## Additional Instructions")
	constraints := strings.Index(prompt, "## Constraints")
	knowledge := strings.Index(prompt, "## Knowledge")
	require.NotEqual(t, -1, instructions)
	require.NotEqual(t, -1, constraints)
	require.NotEqual(t, -1, knowledge)
	assert.Less(t, instructions, constraints)
	assert.Less(t, constraints, knowledge)
	assert.NotContains(t, prompt, "## Examples")
}

func TestBuildSystemPrompt_BlockPriorityWithinGroup(t *testing.T) {
	now := time.Now()
	def := baseDef()
	def.Prompts = []registry.PromptBlock{
		{Type: registry.PromptInstruction, Content: "second", Priority: 1, CreatedAt: now},
		{Type: registry.PromptInstruction, Content: "first", Priority: 9, CreatedAt: now},
	}

	prompt := BuildSystemPrompt(def, nil)
	assert.Less(t, strings.Index(prompt, "first"), strings.Index(prompt, "second"))
}

func TestBuildSystemPrompt_DocumentTruncation(t *testing.T) {
	def := baseDef()
	def.Documents = []registry.ContextDocument{
		{
			Name:              "Fee Schedule",
			Kind:              "pricing",
			Description:       "Current fees",
			UsageInstructions: "Quote verbatim",
			Content:           strings.Repeat("x", maxDocumentChars+500),
			Priority:          5,
		},
	}

	prompt := BuildSystemPrompt(def, nil)

	assert.Contains(t, prompt, "### Fee Schedule (pricing)")
	assert.Contains(t, prompt, "Usage: Quote verbatim")
	assert.Contains(t, prompt, "[truncated]")
	assert.NotContains(t, prompt, strings.Repeat("x", maxDocumentChars+1))
}

func TestBuildSystemPrompt_DocumentTruncationKeepsRunesIntact(t *testing.T) {
	def := baseDef()
	def.Documents = []registry.ContextDocument{
		{
			Name:     "Glossar",
			Kind:     "reference",
			Content:  strings.Repeat("ü", maxDocumentChars+100),
			Priority: 1,
		},
	}

	prompt := BuildSystemPrompt(def, nil)

	assert.True(t, utf8.ValidString(prompt), "truncation must not split a rune")
	assert.Contains(t, prompt, "[truncated]")
	assert.Contains(t, prompt, strings.Repeat("ü", maxDocumentChars))
	assert.NotContains(t, prompt, strings.Repeat("ü", maxDocumentChars+1))
}

func TestBuildSystemPrompt_DocumentPriorityOrder(t *testing.T) {
	def := baseDef()
	def.Documents = []registry.ContextDocument{
		{Name: "Low", Kind: "note", Content: "low content", Priority: 1},
		{Name: "High", Kind: "note", Content: "high content", Priority: 10},
	}

	prompt := BuildSystemPrompt(def, nil)
	assert.Less(t, strings.Index(prompt, "### High"), strings.Index(prompt, "### Low"))
}

func TestBuildSystemPrompt_ToolCatalogueAndMetadata(t *testing.T) {
	def := baseDef()
	def.Tools = []registry.ToolBinding{{Name: "current_datetime", Description: "Returns the current date and time"}}

	prompt := BuildSystemPrompt(def, map[string]string{"participant": "+15550001111"})

	assert.Contains(t, prompt, "## Available Tools")
	assert.Contains(t, prompt, "- current_datetime: Returns the current date and time")
	assert.Contains(t, prompt, "## Context")
	assert.Contains(t, prompt, "participant: +15550001111")
}
