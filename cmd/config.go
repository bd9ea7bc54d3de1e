package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "convoflow.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration with secrets redacted",
				Action: runConfigShow,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Printf("server.port            = %d\n", cfg.Server.Port)
	fmt.Printf("database.url           = %s\n", redactSecret(cfg.Database.URL))
	fmt.Printf("llm.provider           = %s\n", cfg.LLM.Provider)
	fmt.Printf("llm.api_key            = %s\n", redactSecret(cfg.LLM.APIKey))
	fmt.Printf("llm.model              = %s\n", cfg.LLM.Model)
	fmt.Printf("llm.temperature        = %.2f\n", cfg.LLM.Temperature)
	fmt.Printf("channel.base_url       = %s\n", cfg.Channel.BaseURL)
	fmt.Printf("channel.api_key        = %s\n", redactSecret(cfg.Channel.APIKey))
	fmt.Printf("channel.test_mode      = %t\n", cfg.Channel.TestMode)
	fmt.Printf("webhook.secret         = %s\n", redactSecret(cfg.Webhook.Secret))
	fmt.Printf("webhook.auto_respond   = %t\n", cfg.Webhook.AutoRespond)
	fmt.Printf("router.default_agent   = %s\n", cfg.Router.DefaultAgent)
	fmt.Printf("queue.max_workers      = %d\n", cfg.Queue.MaxWorkers)
	fmt.Printf("auth.jwt_secret        = %s\n", redactSecret(cfg.Auth.JWTSecret))
	fmt.Printf("log.level              = %s\n", cfg.Log.Level)
	return nil
}

func redactSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	return "(set)"
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Println("Configuration is valid")
	return nil
}
