package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/database"
	"github.com/convoflow/internal/ledger"
)

// EventsCommand returns the events command
func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Maintain the webhook event ledger",
		Subcommands: []*cli.Command{
			{
				Name:  "prune",
				Usage: "Delete terminal ledger entries older than the retention window",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Retention window, e.g. 720h for 30 days",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: runEventsPrune,
			},
		},
	}
}

func runEventsPrune(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-c.Duration("older-than"))
	pruned, err := ledger.NewStorage(db).PruneBefore(c.Context, cutoff)
	if err != nil {
		return err
	}

	fmt.Printf("Pruned %d events completed before %s\n", pruned, cutoff.Format(time.RFC3339))
	return nil
}
