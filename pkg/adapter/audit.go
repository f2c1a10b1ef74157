package adapter

import (
	"context"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"

	"github.com/y-hosokawa/hibari/pkg/model"
	"github.com/y-hosokawa/hibari/pkg/utils/logging"
)

// Audit records security flags, pipeline runs, delegations and dispatched
// actions for offline review.
type Audit interface {
	Insert(ctx context.Context, record *model.AuditRecord) error
}

// auditClient implements Audit on a BigQuery table
type auditClient struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewAudit creates a BigQuery-backed audit sink
func NewAudit(ctx context.Context, projectID, dataset, table string) (Audit, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create bigquery client")
	}

	return &auditClient{
		client:  client,
		dataset: dataset,
		table:   table,
	}, nil
}

// auditRow is the BigQuery schema for an audit record
type auditRow struct {
	ID        string    `bigquery:"id"`
	Kind      string    `bigquery:"kind"`
	OwnerID   string    `bigquery:"owner_id"`
	AgentID   string    `bigquery:"agent_id"`
	Detail    string    `bigquery:"detail"`
	CreatedAt time.Time `bigquery:"created_at"`
}

func (a *auditClient) Insert(ctx context.Context, record *model.AuditRecord) error {
	row := &auditRow{
		ID:        string(record.ID),
		Kind:      string(record.Kind),
		OwnerID:   string(record.OwnerID),
		AgentID:   string(record.AgentID),
		Detail:    record.Detail,
		CreatedAt: record.CreatedAt,
	}

	inserter := a.client.Dataset(a.dataset).Table(a.table).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return goerr.Wrap(err, "failed to insert audit record",
			goerr.V("kind", record.Kind),
			goerr.V("id", record.ID),
		)
	}

	return nil
}

// logAudit writes audit records to the structured log. Used when no
// BigQuery dataset is configured.
type logAudit struct{}

// NewLogAudit creates an audit sink that only logs
func NewLogAudit() Audit {
	return &logAudit{}
}

func (a *logAudit) Insert(ctx context.Context, record *model.AuditRecord) error {
	logging.From(ctx).Info("audit record",
		slog.String("kind", string(record.Kind)),
		slog.String("owner_id", string(record.OwnerID)),
		slog.String("agent_id", string(record.AgentID)),
		slog.String("detail", record.Detail),
	)
	return nil
}
