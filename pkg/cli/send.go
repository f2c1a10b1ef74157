package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
)

func sendCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		agent   string
		channel string
	)

	flags := append(globalFlags(&cfg),
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner account ID",
			Required:    true,
			Sources:     cli.EnvVars("HIBARI_OWNER"),
			Destination: &owner,
		},
		&cli.StringFlag{
			Name:        "agent",
			Aliases:     []string{"a"},
			Usage:       "Agent ID",
			Required:    true,
			Sources:     cli.EnvVars("HIBARI_AGENT"),
			Destination: &agent,
		},
		&cli.StringFlag{
			Name:        "channel",
			Usage:       "Delivery channel label",
			Value:       string(model.ChannelAPI),
			Destination: &channel,
		},
	)

	return &cli.Command{
		Name:      "send",
		Usage:     "Send a single message to an agent",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if c.Args().Len() != 1 {
				return goerr.New("exactly one message argument is required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			pipe, err := cfg.newPipeline(ctx, repo)
			if err != nil {
				return err
			}

			result, err := pipe.ProcessMessage(ctx, &pipeline.Input{
				OwnerID: model.OwnerID(owner),
				AgentID: model.AgentID(agent),
				Message: c.Args().First(),
				Channel: model.Channel(channel),
			})
			if err != nil {
				return err
			}

			fmt.Println(result.Response)
			if result.Blocked {
				fmt.Println("(message was blocked by the input screen)")
			}
			for _, flag := range result.SecurityFlags {
				fmt.Printf("flag: %s (%s)\n", flag.Type, flag.Severity)
			}
			return nil
		},
	}
}
