package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierops/pulse/model"
)

// PgStore is a PostgreSQL-backed nudge Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL nudge store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck reports database connectivity for readiness probes.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const nudgeColumns = `id, org_id, instance_id, task_id, rule_id, recipient_id,
	channel, message, scheduled_at, sent_at, acknowledged_at, failed, fail_reason, created_at`

// Create inserts a new pending nudge.
func (s *PgStore) Create(ctx context.Context, n model.WorkflowNudge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_nudges (`+nudgeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		n.ID, n.OrgID, n.InstanceID, n.TaskID, n.RuleID, n.RecipientID,
		n.Channel, n.Message, n.ScheduledAt, n.SentAt, n.AcknowledgedAt,
		n.Failed, n.FailReason, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert nudge: %w", err)
	}
	return nil
}

// Get retrieves a nudge by ID, scoped to an org.
func (s *PgStore) Get(ctx context.Context, orgID, nudgeID string) (model.WorkflowNudge, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+nudgeColumns+`
		FROM workflow_nudges
		WHERE id = $1 AND org_id = $2`,
		nudgeID, orgID,
	)
	n, err := scanNudge(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowNudge{}, model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	if err != nil {
		return model.WorkflowNudge{}, fmt.Errorf("query nudge: %w", err)
	}
	return n, nil
}

// Due returns up to limit unsent, unfailed nudges due by cutoff.
func (s *PgStore) Due(ctx context.Context, cutoff time.Time, limit int) ([]model.WorkflowNudge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+nudgeColumns+`
		FROM workflow_nudges
		WHERE scheduled_at <= $1 AND sent_at IS NULL AND NOT failed
		ORDER BY scheduled_at ASC
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due nudges: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowNudge
	for rows.Next() {
		n, err := scanNudge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkSent stamps sent_at. The IS NULL guard makes the stamp atomic:
// a racing sweep loses and reports CONFLICT.
func (s *PgStore) MarkSent(ctx context.Context, nudgeID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_nudges SET sent_at = $1
		WHERE id = $2 AND sent_at IS NULL`,
		at, nudgeID,
	)
	if err != nil {
		return fmt.Errorf("mark nudge sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("nudge %q already sent or missing", nudgeID))
	}
	return nil
}

// MarkFailed stamps the failed flag and reason.
func (s *PgStore) MarkFailed(ctx context.Context, nudgeID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_nudges SET failed = TRUE, fail_reason = $1
		WHERE id = $2`,
		reason, nudgeID,
	)
	if err != nil {
		return fmt.Errorf("mark nudge failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	return nil
}

// MarkAcknowledged stamps acknowledged_at.
func (s *PgStore) MarkAcknowledged(ctx context.Context, orgID, nudgeID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_nudges SET acknowledged_at = $1
		WHERE id = $2 AND org_id = $3`,
		at, nudgeID, orgID,
	)
	if err != nil {
		return fmt.Errorf("mark nudge acknowledged: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("nudge %q not found", nudgeID))
	}
	return nil
}

// ForTask returns all nudges for a task ordered by scheduled time.
func (s *PgStore) ForTask(ctx context.Context, orgID, taskID string) ([]model.WorkflowNudge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+nudgeColumns+`
		FROM workflow_nudges
		WHERE org_id = $1 AND task_id = $2
		ORDER BY scheduled_at ASC`,
		orgID, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query task nudges: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowNudge
	for rows.Next() {
		n, err := scanNudge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

func scanNudge(row pgx.Row) (model.WorkflowNudge, error) {
	var n model.WorkflowNudge
	err := row.Scan(
		&n.ID, &n.OrgID, &n.InstanceID, &n.TaskID, &n.RuleID, &n.RecipientID,
		&n.Channel, &n.Message, &n.ScheduledAt, &n.SentAt, &n.AcknowledgedAt,
		&n.Failed, &n.FailReason, &n.CreatedAt,
	)
	return n, err
}
