package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v3"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
)

func chatCommand() *cli.Command {
	var (
		cfg   config
		owner string
		agent string
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
	)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation with an agent",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			pipe, err := cfg.newPipeline(ctx, repo)
			if err != nil {
				return err
			}

			rl, err := readline.New("> ")
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Printf("Chatting with %s. Ctrl-D to exit.\n", agent)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}

				message := strings.TrimSpace(line)
				if message == "" {
					continue
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Start()
				result, err := pipe.ProcessMessage(ctx, &pipeline.Input{
					OwnerID: model.OwnerID(owner),
					AgentID: model.AgentID(agent),
					Message: message,
					Channel: model.ChannelWidget,
				})
				s.Stop()

				if err != nil {
					fmt.Printf("error: %v\n", err)
					continue
				}

				fmt.Println(result.Response)
				for _, flag := range result.SecurityFlags {
					fmt.Printf("  [%s] %s\n", flag.Severity, flag.Type)
				}
			}
		},
	}
}
