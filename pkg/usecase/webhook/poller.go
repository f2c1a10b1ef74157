package webhook

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"

	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

const pollSchedule = "@every 30s"

// Poller drains the retry queue on a fixed schedule
type Poller struct {
	cron *cron.Cron
}

// StartPoller begins periodic ProcessDue runs for each provider. The poller
// runs until Stop is called.
func (u *UseCase) StartPoller(ctx context.Context, providers []string) (*Poller, error) {
	c := cron.New()
	_, err := c.AddFunc(pollSchedule, func() {
		for _, provider := range providers {
			if err := u.ProcessDue(ctx, provider, time.Now()); err != nil {
				logging.From(ctx).Error("webhook retry poll failed",
					"provider", provider, "error", err)
			}
		}
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to schedule retry poller")
	}

	c.Start()
	logging.From(ctx).Info("webhook retry poller started",
		"schedule", pollSchedule, "providers", providers)
	return &Poller{cron: c}, nil
}

// Stop halts the schedule and waits for a running poll to finish
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}
