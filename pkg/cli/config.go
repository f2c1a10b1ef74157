package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/y-hosokawa/hibari/pkg/adapter"
	"github.com/y-hosokawa/hibari/pkg/gateway"
	"github.com/y-hosokawa/hibari/pkg/policy"
	"github.com/y-hosokawa/hibari/pkg/repository"
	"github.com/y-hosokawa/hibari/pkg/safety"
	"github.com/y-hosokawa/hibari/pkg/usecase/pipeline"
	"github.com/y-hosokawa/hibari/pkg/usecase/webhook"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string
	local    bool

	// Optional collaborators
	bucket    string
	bqDataset string
	bqTable   string
	rulesPath string
	policyDir string

	logLevel string
}

// setupLogger installs the configured logger as both the process default
// and the context logger
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stdout)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "local",
			Usage:       "Use an in-process repository instead of Firestore",
			Sources:     cli.EnvVars("HIBARI_LOCAL"),
			Destination: &cfg.local,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for run transcripts and payloads",
			Sources:     cli.EnvVars("HIBARI_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for the audit trail",
			Sources:     cli.EnvVars("HIBARI_BQ_DATASET"),
			Destination: &cfg.bqDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for the audit trail",
			Value:       "audit",
			Sources:     cli.EnvVars("HIBARI_BQ_TABLE"),
			Destination: &cfg.bqTable,
		},
		&cli.StringFlag{
			Name:        "safety-rules",
			Usage:       "YAML file with additional screening rules",
			Sources:     cli.EnvVars("HIBARI_SAFETY_RULES"),
			Destination: &cfg.rulesPath,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files replacing the delegation policy",
			Sources:     cli.EnvVars("HIBARI_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("HIBARI_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// newRepository creates a repository instance
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, error) {
	if cfg.local {
		return repository.NewMemory(), nil
	}
	if cfg.project == "" {
		return nil, goerr.New("project is required")
	}
	if cfg.database == "" {
		return nil, goerr.New("database is required")
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, nil
}

// newPipeline wires the pipeline use case with the configured collaborators
func (cfg *config) newPipeline(ctx context.Context, repo repository.Repository) (*pipeline.UseCase, error) {
	var opts []pipeline.Option

	if cfg.rulesPath != "" {
		extra, err := safety.LoadRules(cfg.rulesPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithScreener(safety.New(append(safety.DefaultRules(), extra...)...)))
	}

	if cfg.policyDir != "" {
		pol, err := policy.NewDelegationFromDir(ctx, cfg.policyDir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithDelegationPolicy(pol))
	}

	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithStorage(storage))
	}

	if cfg.bqDataset != "" {
		if cfg.project == "" {
			return nil, goerr.New("project is required for the BigQuery audit trail")
		}
		audit, err := adapter.NewAudit(ctx, cfg.project, cfg.bqDataset, cfg.bqTable)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithAudit(audit))
	}

	return pipeline.New(ctx, repo, gateway.New(), adapter.NewEnvVault(), opts...)
}

// newWebhook wires the webhook use case
func (cfg *config) newWebhook(ctx context.Context, repo repository.Repository, pipe *pipeline.UseCase) (*webhook.UseCase, error) {
	var opts []webhook.Option
	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, err
		}
		opts = append(opts, webhook.WithStorage(storage))
	}
	return webhook.New(repo, pipe, opts...), nil
}
