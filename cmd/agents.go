package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/database"
	"github.com/convoflow/internal/registry"
)

// AgentsCommand returns the agents command
func AgentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "agents",
		Usage: "Inspect the active agent definitions",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the agents the router can currently select",
				Action: runAgentsList,
			},
			{
				Name:   "seed",
				Usage:  "Insert the builtin agent pair into the database",
				Action: runAgentsSeed,
			},
		},
	}
}

func runAgentsList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	agents := registry.New(registry.NewStorage(db), cfg.Router.DefaultAgent, cfg.SnapshotTTL())
	snapshot, err := agents.Snapshot(c.Context)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	fmt.Printf("Agents (%d, source: %s):\n", len(snapshot.Keys), snapshot.Source)
	return printAgentTable(snapshot)
}

func runAgentsSeed(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(c.Context, db); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	defs := registry.BuiltinAgents()
	inserted, err := registry.NewStorage(db).Seed(c.Context, defs)
	if err != nil {
		return fmt.Errorf("failed to seed agents: %w", err)
	}

	fmt.Printf("Seeded %d of %d builtin agents (existing names kept)\n", inserted, len(defs))
	return nil
}

func printAgentTable(snapshot *registry.Snapshot) error {
	for _, key := range snapshot.Keys {
		agent := snapshot.Agents[key]
		marker := " "
		if key == snapshot.DefaultKey {
			marker = "*"
		}
		fmt.Printf(" %s %-20s %-20s %s\n", marker, key, agent.TypeTag, agent.Description)
	}
	fmt.Println("\n* default agent")
	return nil
}
