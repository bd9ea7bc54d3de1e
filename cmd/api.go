package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/api"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Convoflow API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if port := c.Int("port"); port > 0 {
				cfg.Server.Port = port
			}

			application, err := buildApp(c.Context, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			fmt.Printf("Starting Convoflow API server on port %d...\n", cfg.Server.Port)

			server := api.NewServer(cfg, application.pipeline, application.router, application.agents)
			return server.Start()
		},
	}
}
