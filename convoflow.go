package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "convoflow",
		Usage:   "Conversational event ingestion and agent routing for WhatsApp channels",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "convoflow.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.WorkerCommand(),
			cmd.SendCommand(),
			cmd.BlastCommand(),
			cmd.ConfigCommand(),
			cmd.AgentsCommand(),
			cmd.EventsCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
