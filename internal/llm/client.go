package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/retry"
)

// maxToolRounds bounds the tool execution loop within a single completion.
const maxToolRounds = 3

// ModelClient implements the classifier, completion, and tool-calling
// capabilities on top of a langchaingo model, with retry and timeout handling
// around every provider call.
type ModelClient struct {
	model       llms.Model
	retryConfig retry.Config
	temperature float64
	log         zerolog.Logger
}

// NewModelClient wraps a model with the default LLM retry configuration
func NewModelClient(model llms.Model, defaultTemperature float64) *ModelClient {
	return &ModelClient{
		model:       model,
		retryConfig: retry.LLMConfig(),
		temperature: defaultTemperature,
		log:         logging.Component("llm"),
	}
}

// ClassifyRoute asks the model which agent should handle the turn. The
// response is reduced to a single lower-cased token; parsing tolerance for
// surrounding prose lives here so the router only sees clean tokens.
func (c *ModelClient) ClassifyRoute(ctx context.Context, routingPrompt string, history []capability.Exchange) (string, error) {
	var b strings.Builder
	b.WriteString(routingPrompt)
	b.WriteString("\n\nConversation so far:\n")
	for _, ex := range history {
		b.WriteString(string(ex.Role))
		b.WriteString(": ")
		b.WriteString(ex.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with exactly one token: the name of the next agent, or FINISH.")

	var raw string
	result := retry.WithBackoff(ctx, c.retryConfig, func() error {
		resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, b.String(),
			llms.WithTemperature(0))
		if err != nil {
			return err
		}
		raw = resp
		return nil
	}, c.log)
	if !result.Success {
		return "", fmt.Errorf("failed to classify route: %w", result.LastError)
	}

	return normalizeToken(raw), nil
}

// normalizeToken reduces a model response to a single routing token
func normalizeToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	if fields := strings.Fields(token); len(fields) > 0 {
		token = fields[0]
	}
	return strings.Trim(token, `"'.,:;!`)
}

// Complete produces a plain completion for an agent without tools
func (c *ModelClient) Complete(ctx context.Context, req capability.CompletionRequest) (string, error) {
	ctx, cancel := c.applyTimeout(ctx, req.TimeoutSecs)
	defer cancel()

	messages := buildMessages(req)
	opts := c.callOptions(req)

	var reply string
	result := retry.WithBackoff(ctx, c.retryConfigFor(req), func() error {
		resp, err := c.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("model returned no choices")
		}
		reply = resp.Choices[0].Content
		return nil
	}, c.log)
	if !result.Success {
		return "", fmt.Errorf("failed to generate completion: %w", result.LastError)
	}

	return strings.TrimSpace(reply), nil
}

// CompleteWithTools produces a completion for an agent with bound tools,
// executing requested tool calls and feeding results back until the model
// answers in plain text or the round limit is hit.
func (c *ModelClient) CompleteWithTools(ctx context.Context, req capability.CompletionRequest, tools []capability.Tool) (string, error) {
	if len(tools) == 0 {
		return c.Complete(ctx, req)
	}

	ctx, cancel := c.applyTimeout(ctx, req.TimeoutSecs)
	defer cancel()

	messages := buildMessages(req)
	opts := append(c.callOptions(req), llms.WithTools(toolSchemas(tools)))

	byName := make(map[string]capability.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}

	for round := 0; round < maxToolRounds; round++ {
		var choice *llms.ContentChoice
		result := retry.WithBackoff(ctx, c.retryConfigFor(req), func() error {
			resp, err := c.model.GenerateContent(ctx, messages, opts...)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("model returned no choices")
			}
			choice = resp.Choices[0]
			return nil
		}, c.log)
		if !result.Success {
			return "", fmt.Errorf("failed to generate tool completion: %w", result.LastError)
		}

		if len(choice.ToolCalls) == 0 {
			return strings.TrimSpace(choice.Content), nil
		}

		// Echo the assistant's tool calls back into the transcript, then
		// append one tool response per call.
		assistant := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, call := range choice.ToolCalls {
			assistant.Parts = append(assistant.Parts, call)
		}
		messages = append(messages, assistant)

		for _, call := range choice.ToolCalls {
			output := c.invokeTool(ctx, byName, call)
			messages = append(messages, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: call.ID,
					Name:       call.FunctionCall.Name,
					Content:    output,
				}},
			})
		}
	}

	return "", fmt.Errorf("tool loop did not converge after %d rounds", maxToolRounds)
}

// invokeTool executes one requested tool call, converting failures into
// a textual result the model can recover from.
func (c *ModelClient) invokeTool(ctx context.Context, byName map[string]capability.Tool, call llms.ToolCall) string {
	if call.FunctionCall == nil {
		return "Error: malformed tool call"
	}

	tool, ok := byName[call.FunctionCall.Name]
	if !ok {
		c.log.Warn().Str("tool", call.FunctionCall.Name).Msg("Model requested unbound tool")
		return fmt.Sprintf("Error: tool %s is not available", call.FunctionCall.Name)
	}

	args, err := ParseToolArguments(call.FunctionCall.Arguments)
	if err != nil {
		c.log.Warn().
			Str("tool", call.FunctionCall.Name).
			Err(err).
			Msg("Failed to parse tool arguments")
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}

	output, err := tool.Invoke(ctx, args)
	if err != nil {
		c.log.Warn().Str("tool", tool.Name()).Err(err).Msg("Tool invocation failed")
		return fmt.Sprintf("Error: %v", err)
	}
	return output
}

func (c *ModelClient) applyTimeout(ctx context.Context, timeoutSecs int) (context.Context, context.CancelFunc) {
	if timeoutSecs <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
}

func (c *ModelClient) retryConfigFor(req capability.CompletionRequest) retry.Config {
	cfg := c.retryConfig
	if req.MaxRetries > 0 {
		cfg.MaxRetries = req.MaxRetries
	}
	return cfg
}

func (c *ModelClient) callOptions(req capability.CompletionRequest) []llms.CallOption {
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.temperature
	}
	opts := []llms.CallOption{llms.WithTemperature(temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

// buildMessages converts a completion request into the langchaingo transcript
func buildMessages(req capability.CompletionRequest) []llms.MessageContent {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
	}
	for _, ex := range req.History {
		role := llms.ChatMessageTypeHuman
		if ex.Role == capability.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, ex.Content))
	}
	return messages
}

// toolSchemas converts registered tools to the provider's function schema
func toolSchemas(tools []capability.Tool) []llms.Tool {
	schemas := make([]llms.Tool, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return schemas
}
