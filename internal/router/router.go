// Package router runs the supervised routing loop for one inbound turn. A
// classifier pass picks the responder agent, the agent produces a reply, and
// control returns to the supervisor, which ends the turn. A hard cap of one
// reply per turn bounds the loop regardless of what the classifier says.
package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/registry"
)

// maxTurnReplies caps how many agent replies a single inbound message can
// produce. Once reached, the supervisor ends the turn unconditionally, so a
// turn never visits a second agent no matter what the classifier emits.
const maxTurnReplies = 1

// NoReplyText is returned when the turn ends without any agent reply
const NoReplyText = "I'm sorry, I could not process your message right now. Please try again shortly."

// State is the routing loop position
type State int

const (
	StateSupervisor State = iota
	StateAgent
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateSupervisor:
		return "supervisor"
	case StateAgent:
		return "agent"
	case StateEnd:
		return "end"
	}
	return "unknown"
}

// AgentRunner executes one agent definition against the turn history.
// Satisfied by the executor; failures surface as fallback reply text,
// never as errors.
type AgentRunner interface {
	Run(ctx context.Context, def *registry.AgentDefinition, history []capability.Exchange, metadata map[string]string) string
}

// Turn is one inbound message plus its conversation context
type Turn struct {
	History  []capability.Exchange
	Metadata map[string]string
}

// Step records one supervisor decision, for diagnostics
type Step struct {
	State  string `json:"state"`
	Detail string `json:"detail"`
}

// Result is the outcome of routing one turn
type Result struct {
	Reply    string `json:"reply"`
	AgentKey string `json:"agent_key"`
	Ok       bool   `json:"ok"`
	Replies  int    `json:"replies"`
	Trace    []Step `json:"trace,omitempty"`
}

// Router is the bounded supervisor loop
type Router struct {
	registry   *registry.Registry
	classifier capability.Classifier
	runner     AgentRunner
	log        zerolog.Logger
}

// New creates a router over the agent registry, the routing classifier and
// the agent runner.
func New(reg *registry.Registry, classifier capability.Classifier, runner AgentRunner) *Router {
	return &Router{
		registry:   reg,
		classifier: classifier,
		runner:     runner,
		log:        logging.Component("router"),
	}
}

// Route drives the turn through the supervisor loop and returns the final
// reply. It errors only when the agent snapshot itself cannot be loaded;
// classifier and agent failures degrade inside the loop.
func (r *Router) Route(ctx context.Context, turn Turn) (*Result, error) {
	snapshot, err := r.registry.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent snapshot: %w", err)
	}

	result := &Result{}
	state := StateSupervisor

	for state != StateEnd {
		switch state {
		case StateSupervisor:
			// The reply cap is checked before consulting the classifier. It
			// wins over whatever the classifier or the default-agent
			// fallback would have decided.
			if result.Replies >= maxTurnReplies {
				result.Trace = append(result.Trace, Step{State: "supervisor", Detail: "reply cap reached"})
				state = StateEnd
				continue
			}

			key, done := r.classify(ctx, snapshot, turn.History, result)
			if done {
				state = StateEnd
				continue
			}
			result.AgentKey = key
			state = StateAgent

		case StateAgent:
			def, ok := snapshot.Agent(result.AgentKey)
			if !ok {
				// Snapshot changed under us or the key is bogus; nothing
				// to run, hand back to the supervisor's end decision.
				r.log.Error().Str("agent", result.AgentKey).Msg("Routed agent missing from snapshot")
				result.Trace = append(result.Trace, Step{State: "agent", Detail: "agent missing: " + result.AgentKey})
				state = StateEnd
				continue
			}

			reply := r.runner.Run(ctx, def, turn.History, turn.Metadata)
			result.Reply = reply
			result.Replies++
			result.Trace = append(result.Trace, Step{State: "agent", Detail: "ran " + def.Key})
			state = StateSupervisor
		}
	}

	if result.Replies == 0 {
		result.Reply = NoReplyText
		result.Ok = false
		return result, nil
	}
	result.Ok = true
	return result, nil
}

// classify asks the classifier for the routing token and resolves it to an
// agent key. Returns done=true when the turn should end instead. The reply
// cap guarantees no reply exists yet when this runs, so a classifier failure
// always degrades to the default agent rather than a silent turn.
func (r *Router) classify(ctx context.Context, snapshot *registry.Snapshot, history []capability.Exchange, result *Result) (string, bool) {
	token, err := r.classifier.ClassifyRoute(ctx, snapshot.RoutingPrompt, history)
	if err != nil {
		r.log.Warn().Err(err).Str("fallback", snapshot.DefaultKey).Msg("Classifier failed, using default agent")
		result.Trace = append(result.Trace, Step{State: "supervisor", Detail: "classifier error, default " + snapshot.DefaultKey})
		return snapshot.DefaultKey, false
	}

	if token == registry.TerminationToken {
		result.Trace = append(result.Trace, Step{State: "supervisor", Detail: "termination token"})
		return "", true
	}

	if _, ok := snapshot.Agent(token); ok {
		result.Trace = append(result.Trace, Step{State: "supervisor", Detail: "selected " + token})
		return token, false
	}

	r.log.Warn().Str("token", token).Str("fallback", snapshot.DefaultKey).Msg("Classifier returned unknown routing token")
	result.Trace = append(result.Trace, Step{State: "supervisor", Detail: fmt.Sprintf("unknown token %q, default %s", token, snapshot.DefaultKey)})
	return snapshot.DefaultKey, false
}
