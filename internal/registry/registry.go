package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoflow/internal/logging"
)

// TerminationToken is the classifier response that ends the routing loop
const TerminationToken = "finish"

// Snapshot is an immutable view of the active agent set, shared read-only
// across requests until it expires or is explicitly refreshed.
type Snapshot struct {
	Agents        map[string]*AgentDefinition
	Keys          []string // sorted routing keys
	DefaultKey    string
	RoutingPrompt string
	Source        string // "database" or "builtin"
	LoadedAt      time.Time
}

// Agent returns the definition for a routing key, if loaded
func (s *Snapshot) Agent(key string) (*AgentDefinition, bool) {
	agent, ok := s.Agents[key]
	return agent, ok
}

// Loader is the storage dependency of the registry
type Loader interface {
	ListActive(ctx context.Context) ([]*AgentDefinition, error)
}

// Registry caches the active agent snapshot for a short TTL so concurrent
// requests share one read-only view instead of re-querying per message.
type Registry struct {
	loader     Loader
	defaultKey string
	ttl        time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	snapshot *Snapshot
}

// New creates a registry backed by the given loader
func New(loader Loader, defaultKey string, ttl time.Duration) *Registry {
	if defaultKey == "" {
		defaultKey = "general"
	}
	return &Registry{
		loader:     loader,
		defaultKey: defaultKey,
		ttl:        ttl,
		log:        logging.Component("registry"),
	}
}

// Snapshot returns the current agent snapshot, reloading it when the cached
// one has expired.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snapshot != nil && time.Since(r.snapshot.LoadedAt) < r.ttl {
		return r.snapshot, nil
	}

	snapshot, err := r.load(ctx)
	if err != nil {
		// A stale snapshot beats failing the request outright
		if r.snapshot != nil {
			r.log.Warn().Err(err).Msg("Agent reload failed, serving stale snapshot")
			return r.snapshot, nil
		}
		return nil, err
	}

	r.snapshot = snapshot
	return snapshot, nil
}

// Refresh drops the cached snapshot and reloads immediately
func (r *Registry) Refresh(ctx context.Context) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.snapshot = snapshot
	return snapshot, nil
}

func (r *Registry) load(ctx context.Context) (*Snapshot, error) {
	agents, err := r.loader.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active agents: %w", err)
	}

	source := "database"
	if len(agents) == 0 {
		agents = BuiltinAgents()
		source = "builtin"
		r.log.Info().Msg("No active agent definitions configured, using builtin fallback pair")
	}

	byKey := make(map[string]*AgentDefinition, len(agents))
	keys := make([]string, 0, len(agents))
	for _, agent := range agents {
		key := agent.Key
		if key == "" {
			key = NormalizeKey(agent.Name)
			agent.Key = key
		}
		if _, dup := byKey[key]; dup {
			r.log.Warn().Str("key", key).Msg("Duplicate agent routing key, keeping first definition")
			continue
		}
		byKey[key] = agent
		keys = append(keys, key)
	}
	sort.Strings(keys)

	defaultKey := r.defaultKey
	if _, ok := byKey[defaultKey]; !ok {
		// The configured default may not be active; fall back to the first key
		defaultKey = keys[0]
	}

	snapshot := &Snapshot{
		Agents:        byKey,
		Keys:          keys,
		DefaultKey:    defaultKey,
		RoutingPrompt: buildRoutingPrompt(byKey, keys),
		Source:        source,
		LoadedAt:      time.Now(),
	}

	r.log.Debug().
		Int("agents", len(keys)).
		Str("source", source).
		Str("default", defaultKey).
		Msg("Built agent snapshot")

	return snapshot, nil
}

// typePhrases holds curated one-line descriptions per known agent type tag
var typePhrases = map[string]string{
	"document_specialist": "finds and explains the participant's documents and filings",
	"tax_specialist":      "answers tax obligations, deadlines, and amounts due",
	"accounting":          "answers bookkeeping and accounting questions",
	"support":             "handles product and account support questions",
	"general":             "handles greetings and anything without a clearer owner",
}

// buildRoutingPrompt enumerates the loaded agents for the classifier. Each
// agent gets a one-line description from its type tag, plus its free-text
// description when present.
func buildRoutingPrompt(agents map[string]*AgentDefinition, keys []string) string {
	var b strings.Builder
	b.WriteString("You are a supervisor routing a conversation to the right specialist.\n")
	b.WriteString("Available specialists:\n")

	for _, key := range keys {
		agent := agents[key]
		phrase, ok := typePhrases[agent.TypeTag]
		if !ok {
			phrase = fmt.Sprintf("handles %s requests", strings.ReplaceAll(agent.TypeTag, "_", " "))
		}
		b.WriteString("- ")
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(phrase)
		if desc := strings.TrimSpace(agent.Description); desc != "" {
			b.WriteString(". ")
			b.WriteString(desc)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nGiven the conversation, respond with the single specialist name that should handle it,\n")
	b.WriteString("or FINISH when the conversation needs no further reply.")
	return b.String()
}
