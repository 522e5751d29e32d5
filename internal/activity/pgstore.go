package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierops/pulse/model"
)

// PgStore is a PostgreSQL-backed activity Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL activity store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Append inserts one activity entry.
func (s *PgStore) Append(ctx context.Context, entry model.WorkflowActivity) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_activities (
			id, org_id, instance_id, task_id, activity_type,
			description, actor_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.OrgID, entry.InstanceID, entry.TaskID, entry.Type,
		entry.Description, entry.ActorID, metaJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow activity: %w", err)
	}
	return nil
}

// ForInstance returns entries for an instance ordered by creation time.
func (s *PgStore) ForInstance(ctx context.Context, orgID, instanceID string) ([]model.WorkflowActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, instance_id, task_id, activity_type,
		       description, actor_id, metadata, created_at
		FROM workflow_activities
		WHERE org_id = $1 AND instance_id = $2
		ORDER BY created_at ASC`,
		orgID, instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query workflow activities: %w", err)
	}
	defer rows.Close()

	var entries []model.WorkflowActivity
	for rows.Next() {
		var e model.WorkflowActivity
		var metaJSON []byte
		if err := rows.Scan(
			&e.ID, &e.OrgID, &e.InstanceID, &e.TaskID, &e.Type,
			&e.Description, &e.ActorID, &metaJSON, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan workflow activity: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
