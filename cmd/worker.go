package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/jobqueue"
)

// WorkerCommand returns the CLI command for running the background job workers
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the background job workers for queued sends and template blasts",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			application, err := buildApp(c.Context, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			queue, err := jobqueue.NewJobQueue(
				c.Context,
				cfg.Database.URL,
				jobqueue.NewQueueConfig(cfg.Queue.MaxWorkers),
				application.conversations,
				application.templates,
				application.dispatcher,
			)
			if err != nil {
				return err
			}

			if err := queue.Start(c.Context); err != nil {
				return fmt.Errorf("failed to start workers: %w", err)
			}
			fmt.Printf("Workers running (%d max)...\n", cfg.Queue.MaxWorkers)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt)
			<-quit

			return queue.Stop(c.Context)
		},
	}
}
