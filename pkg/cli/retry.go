package cli

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func retryCommand() *cli.Command {
	var (
		cfg       config
		providers []string
		daemon    bool
	)

	flags := append(globalFlags(&cfg),
		&cli.StringSliceFlag{
			Name:        "providers",
			Usage:       "Webhook providers to drain",
			Sources:     cli.EnvVars("HIBARI_PROVIDERS"),
			Destination: &providers,
		},
		&cli.BoolFlag{
			Name:        "daemon",
			Usage:       "Keep polling instead of a single pass",
			Destination: &daemon,
		},
	)

	return &cli.Command{
		Name:  "retry",
		Usage: "Process due webhook retries",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			if len(providers) == 0 {
				return goerr.New("at least one provider is required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			pipe, err := cfg.newPipeline(ctx, repo)
			if err != nil {
				return err
			}
			hook, err := cfg.newWebhook(ctx, repo, pipe)
			if err != nil {
				return err
			}

			if daemon {
				poller, err := hook.StartPoller(ctx, providers)
				if err != nil {
					return err
				}
				<-ctx.Done()
				poller.Stop()
				return nil
			}

			now := time.Now()
			for _, provider := range providers {
				if err := hook.ProcessDue(ctx, provider, now); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
