package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelierops/pulse/model"
)

// PgStore is a PostgreSQL-backed instance Store using pgx/v5. Instance
// updates use optimistic locking on the version column; CreateInstance
// wraps the instance and task inserts in one transaction.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PostgreSQL instance store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck reports database connectivity for readiness probes.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const instanceColumns = `id, template_id, template_version, org_id, owner_id, created_by_id,
	entity_type, entity_id, trigger_data, deadline, status, progress,
	started_at, completed_at, cancelled_at, updated_at, version`

const taskColumns = `id, instance_id, org_id, template_task_id, name, role, assignee_id,
	assignment_note, due_at, status, depends_on_ids, estimated_hours,
	blocked_reason, brief_id, notes, started_at, completed_at, created_at, updated_at`

// CreateInstance persists a new instance and its tasks in one transaction.
func (s *PgStore) CreateInstance(ctx context.Context, inst model.WorkflowInstance, tasks []model.WorkflowTask) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create instance: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		inst.ID, inst.TemplateID, inst.TemplateVersion, inst.OrgID, inst.OwnerID, inst.CreatedByID,
		inst.EntityType, inst.EntityID, inst.Trigger, inst.Deadline, inst.Status, inst.Progress,
		inst.StartedAt, inst.CompletedAt, inst.CancelledAt, inst.UpdatedAt, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	for _, t := range tasks {
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow_tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			t.ID, t.InstanceID, t.OrgID, t.TemplateTaskID, t.Name, t.Role, t.AssigneeID,
			t.AssignmentNote, t.DueAt, t.Status, t.DependsOnIDs, t.EstimatedHours,
			t.BlockedReason, t.BriefID, t.Notes, t.StartedAt, t.CompletedAt, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task %q: %w", t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Instance retrieves an instance by ID, scoped to an org.
func (s *PgStore) Instance(ctx context.Context, orgID, instanceID string) (model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances
		WHERE id = $1 AND org_id = $2`,
		instanceID, orgID,
	)
	inst, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowInstance{}, model.NewNotFoundError(fmt.Sprintf("instance %q not found", instanceID))
	}
	if err != nil {
		return model.WorkflowInstance{}, fmt.Errorf("query instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists instance changes. The version predicate makes the
// update optimistic; a concurrent writer wins and this one gets CONFLICT.
func (s *PgStore) UpdateInstance(ctx context.Context, inst model.WorkflowInstance) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET status = $1, progress = $2, deadline = $3, completed_at = $4,
			cancelled_at = $5, updated_at = $6, version = version + 1
		WHERE id = $7 AND org_id = $8 AND version = $9`,
		inst.Status, inst.Progress, inst.Deadline, inst.CompletedAt,
		inst.CancelledAt, inst.UpdatedAt,
		inst.ID, inst.OrgID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("instance %q was modified concurrently or does not exist", inst.ID),
		)
	}
	return nil
}

// ListInstances returns a page of instances matching the filters, newest
// first, plus the total match count.
func (s *PgStore) ListInstances(ctx context.Context, orgID string, f model.InstanceFilters) ([]model.WorkflowInstance, int, error) {
	where := `WHERE org_id = $1`
	args := []any{orgID}
	if f.TemplateID != "" {
		args = append(args, f.TemplateID)
		where += fmt.Sprintf(` AND template_id = $%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_instances `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count instances: %w", err)
	}

	page, size := pageBounds(f)
	args = append(args, size, (page-1)*size)
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM workflow_instances `+where+`
		ORDER BY started_at DESC, id ASC
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan instance: %w", err)
		}
		result = append(result, inst)
	}
	return result, total, rows.Err()
}

// Task retrieves a task by ID, scoped to an org.
func (s *PgStore) Task(ctx context.Context, orgID, taskID string) (model.WorkflowTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM workflow_tasks
		WHERE id = $1 AND org_id = $2`,
		taskID, orgID,
	)
	t, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return model.WorkflowTask{}, model.NewNotFoundError(fmt.Sprintf("task %q not found", taskID))
	}
	if err != nil {
		return model.WorkflowTask{}, fmt.Errorf("query task: %w", err)
	}
	return t, nil
}

// InstanceTasks returns all tasks of an instance ordered by due date then ID.
func (s *PgStore) InstanceTasks(ctx context.Context, orgID, instanceID string) ([]model.WorkflowTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM workflow_tasks
		WHERE org_id = $1 AND instance_id = $2
		ORDER BY due_at ASC, id ASC`,
		orgID, instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query instance tasks: %w", err)
	}
	defer rows.Close()

	var result []model.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// UpdateTask persists task changes.
func (s *PgStore) UpdateTask(ctx context.Context, task model.WorkflowTask) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_tasks
		SET assignee_id = $1, assignment_note = $2, due_at = $3, status = $4,
			blocked_reason = $5, notes = $6, started_at = $7, completed_at = $8,
			updated_at = $9
		WHERE id = $10 AND org_id = $11`,
		task.AssigneeID, task.AssignmentNote, task.DueAt, task.Status,
		task.BlockedReason, task.Notes, task.StartedAt, task.CompletedAt,
		task.UpdatedAt,
		task.ID, task.OrgID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("task %q not found", task.ID))
	}
	return nil
}

func scanInstance(row pgx.Row) (model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	err := row.Scan(
		&inst.ID, &inst.TemplateID, &inst.TemplateVersion, &inst.OrgID, &inst.OwnerID, &inst.CreatedByID,
		&inst.EntityType, &inst.EntityID, &inst.Trigger, &inst.Deadline, &inst.Status, &inst.Progress,
		&inst.StartedAt, &inst.CompletedAt, &inst.CancelledAt, &inst.UpdatedAt, &inst.Version,
	)
	return inst, err
}

func scanTask(row pgx.Row) (model.WorkflowTask, error) {
	var t model.WorkflowTask
	err := row.Scan(
		&t.ID, &t.InstanceID, &t.OrgID, &t.TemplateTaskID, &t.Name, &t.Role, &t.AssigneeID,
		&t.AssignmentNote, &t.DueAt, &t.Status, &t.DependsOnIDs, &t.EstimatedHours,
		&t.BlockedReason, &t.BriefID, &t.Notes, &t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}
