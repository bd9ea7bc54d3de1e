package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/convoflow/internal/config"
	"github.com/convoflow/internal/jobqueue"
)

// SendCommand returns the CLI command for queueing one outbound message
func SendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Queue one outbound message for a participant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "to",
				Usage:    "Recipient participant identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "text",
				Usage: "Message text to send",
			},
			&cli.StringFlag{
				Name:  "template",
				Usage: "Named message template to render instead of --text",
			},
			&cli.StringSliceFlag{
				Name:  "var",
				Usage: "Template variable as key=value, repeatable",
			},
		},
		Action: runSend,
	}
}

// BlastCommand returns the CLI command for queueing a template blast
func BlastCommand() *cli.Command {
	return &cli.Command{
		Name:  "blast",
		Usage: "Queue a template blast to many participants",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "template",
				Usage:    "Named message template to render",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "to",
				Usage:    "Recipient participant identifier, repeatable",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "var",
				Usage: "Template variable as key=value, repeatable",
			},
		},
		Action: runBlast,
	}
}

func runSend(c *cli.Context) error {
	text := c.String("text")
	template := c.String("template")
	if text == "" && template == "" {
		return fmt.Errorf("either --text or --template is required")
	}

	vars, err := parseVars(c.StringSlice("var"))
	if err != nil {
		return err
	}

	cfg, queue, cleanup, err := openQueue(c)
	if err != nil {
		return err
	}
	defer cleanup()

	args := jobqueue.SendMessageArgs{
		Participant: c.String("to"),
		Text:        text,
		Template:    template,
		Variables:   vars,
	}
	if err := queue.QueueSend(c.Context, args); err != nil {
		return err
	}

	fmt.Printf("Queued send to %s (workers: %d)\n", args.Participant, cfg.Queue.MaxWorkers)
	return nil
}

func runBlast(c *cli.Context) error {
	vars, err := parseVars(c.StringSlice("var"))
	if err != nil {
		return err
	}

	_, queue, cleanup, err := openQueue(c)
	if err != nil {
		return err
	}
	defer cleanup()

	args := jobqueue.TemplateBlastArgs{
		Template:   c.String("template"),
		Recipients: c.StringSlice("to"),
		Variables:  vars,
	}
	if err := queue.QueueTemplateBlast(c.Context, args); err != nil {
		return err
	}

	fmt.Printf("Queued blast of %q to %d recipients\n", args.Template, len(args.Recipients))
	return nil
}

// openQueue builds the application and its job queue for enqueue-only use.
// The queue is never started here; a running worker picks the jobs up.
func openQueue(c *cli.Context) (*config.Config, *jobqueue.JobQueue, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}

	application, err := buildApp(c.Context, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	queue, err := jobqueue.NewJobQueue(
		c.Context,
		cfg.Database.URL,
		jobqueue.NewQueueConfig(cfg.Queue.MaxWorkers),
		application.conversations,
		application.templates,
		application.dispatcher,
	)
	if err != nil {
		application.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		queue.Stop(c.Context)
		application.Close()
	}
	return cfg, queue, cleanup, nil
}

// parseVars turns repeated key=value flags into a template variable map
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
