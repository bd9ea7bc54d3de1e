// Package capability defines the narrow contracts through which the pipeline
// talks to external providers: route classification, completions, tool-augmented
// completions, and outbound channel sends. Concrete implementations live in
// internal/llm and internal/channel.
package capability

import "context"

// ChatRole identifies the author of one exchange in a turn's history.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Exchange is one message in the routing turn's history.
type Exchange struct {
	Role    ChatRole
	Content string
	// Agent is set on assistant exchanges to the key of the agent that
	// produced the reply.
	Agent string
}

// CompletionRequest carries a fully assembled prompt plus the model
// parameters taken from the agent definition being executed.
type CompletionRequest struct {
	SystemPrompt string
	History      []Exchange
	Temperature  float64
	MaxTokens    int
	TimeoutSecs  int
	MaxRetries   int
}

// Classifier decides which registered agent should handle the turn.
// The response is expected to be a single routing token.
type Classifier interface {
	ClassifyRoute(ctx context.Context, routingPrompt string, history []Exchange) (string, error)
}

// Completer produces a plain completion for an agent without tool bindings.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ToolCaller produces a completion for an agent with tool bindings,
// executing tool invocations as the model requests them.
type ToolCaller interface {
	CompleteWithTools(ctx context.Context, req CompletionRequest, tools []Tool) (string, error)
}

// ChannelSender delivers a text reply through the outbound messaging channel.
// It returns the provider-assigned message id.
type ChannelSender interface {
	SendText(ctx context.Context, conversationExternalID, text string) (string, error)
}

// Tool is a named capability an agent may invoke mid-completion. Tools are
// registered at startup; agent definitions bind to them by name.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON schema object describing the arguments.
	Parameters() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}
