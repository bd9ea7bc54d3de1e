package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/capability"
	"github.com/convoflow/internal/channel"
	"github.com/convoflow/internal/config"
	"github.com/convoflow/internal/conversation"
	"github.com/convoflow/internal/database"
	"github.com/convoflow/internal/dispatcher"
	"github.com/convoflow/internal/executor"
	"github.com/convoflow/internal/ingest"
	"github.com/convoflow/internal/ledger"
	"github.com/convoflow/internal/llm"
	"github.com/convoflow/internal/logging"
	"github.com/convoflow/internal/registry"
	"github.com/convoflow/internal/router"
	"github.com/convoflow/internal/templates"
)

// seenCacheTTL and seenCacheSize bound the in-process duplicate fast path.
// The database unique constraint remains the authority.
const (
	seenCacheTTL  = 10 * time.Minute
	seenCacheSize = 10000
)

// app holds the wired service components
type app struct {
	cfg           *config.Config
	db            *sql.DB
	events        *ledger.Storage
	conversations *conversation.Storage
	templates     *templates.Storage
	agents        *registry.Registry
	router        *router.Router
	pipeline      *ingest.Pipeline
	dispatcher    *dispatcher.Dispatcher
}

// loadConfig loads and validates the configuration for a CLI invocation
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Setup(cfg.Log.Level)
	return cfg, nil
}

// buildApp wires the full processing stack from configuration
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	convStore := conversation.NewStorage(db)

	model, err := llm.NewModel(ctx, llm.ProviderConfig{
		Provider:  cfg.LLM.Provider,
		APIKey:    cfg.LLM.APIKey,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize model provider: %w", err)
	}
	modelClient := llm.NewModelClient(model, cfg.LLM.Temperature)

	tools := capability.NewToolRegistry()
	for _, tool := range capability.BuiltinTools(convStore) {
		if err := tools.Register(tool); err != nil {
			db.Close()
			return nil, err
		}
	}

	agents := registry.New(registry.NewStorage(db), cfg.Router.DefaultAgent, cfg.SnapshotTTL())
	exec := executor.New(modelClient, modelClient, tools)
	turnRouter := router.New(agents, modelClient, exec)

	sender := channel.NewClient(cfg)
	disp := dispatcher.New(convStore, sender)

	eventStore := ledger.NewStorage(db)
	seen := ledger.NewSeenCache(seenCacheTTL, seenCacheSize)
	pipeline := ingest.New(eventStore, convStore, turnRouter, disp, seen, cfg.Webhook.AutoRespond)

	return &app{
		cfg:           cfg,
		db:            db,
		events:        eventStore,
		conversations: convStore,
		templates:     templates.NewStorage(db),
		agents:        agents,
		router:        turnRouter,
		pipeline:      pipeline,
		dispatcher:    disp,
	}, nil
}

// Close releases the app's database handle
func (a *app) Close() error {
	return a.db.Close()
}
