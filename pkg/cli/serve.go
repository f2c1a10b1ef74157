package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
	"github.com/y-hosokawa/hibari/pkg/usecase/webhook"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

func serveCommand() *cli.Command {
	var (
		cfg       config
		addr      string
		providers []string
	)

	flags := append(globalFlags(&cfg),
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("HIBARI_ADDR"),
			Destination: &addr,
		},
		&cli.StringSliceFlag{
			Name:        "providers",
			Usage:       "Webhook providers to poll for due retries",
			Sources:     cli.EnvVars("HIBARI_PROVIDERS"),
			Destination: &providers,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
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
			hook, err := cfg.newWebhook(ctx, repo, pipe)
			if err != nil {
				return err
			}

			if len(providers) > 0 {
				poller, err := hook.StartPoller(ctx, providers)
				if err != nil {
					return err
				}
				defer poller.Stop()
			}

			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/messages", handleMessage(pipe))
			mux.HandleFunc("POST /webhooks/{provider}", handleWebhook(hook))

			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()
			logging.From(ctx).Info("server started", "addr", addr)

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

type messageRequest struct {
	OwnerID  string `json:"owner_id"`
	AgentID  string `json:"agent_id"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
	CallerID string `json:"caller_id"`
}

type messageResponse struct {
	Response      string               `json:"response"`
	TokensUsed    int                  `json:"tokens_used"`
	Blocked       bool                 `json:"blocked"`
	SecurityFlags []model.SecurityFlag `json:"security_flags,omitempty"`
}

func handleMessage(pipe *pipeline.UseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.OwnerID == "" || req.AgentID == "" || req.Message == "" {
			http.Error(w, "owner_id, agent_id and message are required", http.StatusBadRequest)
			return
		}

		channel := model.Channel(req.Channel)
		if channel == "" {
			channel = model.ChannelAPI
		}

		result, err := pipe.ProcessMessage(ctx, &pipeline.Input{
			OwnerID:  model.OwnerID(req.OwnerID),
			AgentID:  model.AgentID(req.AgentID),
			Message:  req.Message,
			Channel:  channel,
			CallerID: req.CallerID,
		})
		if err != nil {
			logging.From(ctx).Error("message processing failed", "error", err)
			http.Error(w, "failed to process message", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&messageResponse{
			Response:      result.Response,
			TokensUsed:    result.TokensUsed,
			Blocked:       result.Blocked,
			SecurityFlags: result.SecurityFlags,
		}); err != nil {
			logging.From(ctx).Error("failed to write response", "error", err)
		}
	}
}

// handleWebhook acknowledges the provider even when processing fails.
// Failed payloads are already queued for redelivery, so a provider-side
// resend would only create duplicate work.
func handleWebhook(hook *webhook.UseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		provider := r.PathValue("provider")

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		if err := hook.HandleEvent(ctx, provider, payload); err != nil {
			logging.From(ctx).Warn("webhook queued for retry",
				"provider", provider, "error", err)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
