package submissionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowctl/workflowrouter/internal/routererr"
	"github.com/flowctl/workflowrouter/internal/submission"
)

// PostgresStore is the durable Submission Store backed by Postgres. It
// issues column-scoped updates for root field changes and task-row-scoped
// inserts/deletes/updates for child changes, all within one transaction,
// with the version check folded into the UPDATE's WHERE clause so a
// conflicting concurrent writer is detected via RowsAffected == 0 rather
// than a separate read-then-compare.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres using the given DSN, with the
// pool sized for a moderate-traffic service.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, sub *submission.Submission) error {
	params, err := json.Marshal(sub.Parameters)
	if err != nil {
		return fmt.Errorf("marshaling parameters: %w", err)
	}

	query := `
		INSERT INTO submissions
			(submission_id, route_id, workflow_id, external_id, parameters,
			 status, submitted_at, last_updated_at, error_message, result, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.pool.Exec(ctx, query,
		sub.SubmissionID, sub.RouteID, sub.WorkflowID, sub.ExternalID, params,
		sub.Status, sub.SubmittedAt, sub.LastUpdatedAt, sub.ErrorMessage, emptyJSON(sub.Result), sub.Version)
	if err != nil {
		return fmt.Errorf("inserting submission %s: %w", sub.SubmissionID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, submissionID string) (*submission.Submission, error) {
	query := `
		SELECT submission_id, route_id, workflow_id, external_id, parameters,
		       status, submitted_at, last_updated_at, error_message, result, version
		FROM submissions WHERE submission_id = $1
	`
	var sub submission.Submission
	var params, result []byte
	err := s.pool.QueryRow(ctx, query, submissionID).Scan(
		&sub.SubmissionID, &sub.RouteID, &sub.WorkflowID, &sub.ExternalID, &params,
		&sub.Status, &sub.SubmittedAt, &sub.LastUpdatedAt, &sub.ErrorMessage, &result, &sub.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission %s: %w", submissionID, err)
	}
	if err := json.Unmarshal(params, &sub.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshaling parameters: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &sub.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
	}

	tasks, err := s.getTasks(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	sub.Tasks = tasks
	return &sub, nil
}

func (s *PostgresStore) getTasks(ctx context.Context, submissionID string) ([]submission.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_id, submission_id, external_task_id, status, started_at, ended_at, order_index, updated_at
		FROM tasks WHERE submission_id = $1 ORDER BY order_index ASC
	`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks for %s: %w", submissionID, err)
	}
	defer rows.Close()

	var tasks []submission.Task
	for rows.Next() {
		var t submission.Task
		if err := rows.Scan(&t.TaskID, &t.SubmissionID, &t.ExternalTaskID, &t.Status, &t.StartedAt, &t.EndedAt, &t.OrderIndex, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ApplyDiff applies d within one transaction: a column-scoped UPDATE for
// root changes (version-checked in the WHERE clause), a DELETE for
// removed tasks, per-field UPDATEs for changed tasks, and an INSERT for
// new tasks.
func (s *PostgresStore) ApplyDiff(ctx context.Context, submissionID string, expectedVersion int, d *submission.Diff) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	newVersion := expectedVersion + 1
	setClauses := []string{"version = $1", "last_updated_at = $2"}
	args := []interface{}{newVersion, time.Now().UTC()}
	argN := 3

	for field, v := range d.RootChanges {
		col, ok := rootFieldColumn(field)
		if !ok {
			continue
		}
		if field == submission.FieldResult {
			encoded, err := json.Marshal(v)
			if err != nil {
				return 0, fmt.Errorf("marshaling result diff: %w", err)
			}
			v = encoded
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, v)
		argN++
	}

	args = append(args, submissionID, expectedVersion)
	query := fmt.Sprintf(`
		UPDATE submissions SET %s
		WHERE submission_id = $%d AND version = $%d
	`, strings.Join(setClauses, ", "), argN, argN+1)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("applying root diff to %s: %w", submissionID, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, routererr.ErrConflict
	}

	if err := s.applyTaskDiff(ctx, tx, submissionID, d); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing diff for %s: %w", submissionID, err)
	}
	return newVersion, nil
}

func (s *PostgresStore) applyTaskDiff(ctx context.Context, tx pgx.Tx, submissionID string, d *submission.Diff) error {
	for _, id := range d.RemovedTaskIDs {
		if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE submission_id = $1 AND task_id = $2`, submissionID, id); err != nil {
			return fmt.Errorf("removing task %s: %w", id, err)
		}
	}

	for _, td := range d.TaskDiffs {
		setClauses := []string{"updated_at = $1"}
		args := []interface{}{time.Now().UTC()}
		argN := 2
		for field, v := range td.Changes {
			col, ok := taskFieldColumn(field)
			if !ok {
				continue
			}
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, argN))
			args = append(args, v)
			argN++
		}
		args = append(args, submissionID, td.TaskID)
		query := fmt.Sprintf(`UPDATE tasks SET %s WHERE submission_id = $%d AND task_id = $%d`,
			strings.Join(setClauses, ", "), argN, argN+1)
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("updating task %s: %w", td.TaskID, err)
		}
	}

	for _, t := range d.InsertedTasks {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (task_id, submission_id, external_task_id, status, started_at, ended_at, order_index, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (submission_id, task_id) DO NOTHING
		`, t.TaskID, submissionID, t.ExternalTaskID, t.Status, t.StartedAt, t.EndedAt, t.OrderIndex, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("inserting task %s: %w", t.TaskID, err)
		}
	}
	return nil
}

func rootFieldColumn(field string) (string, bool) {
	switch field {
	case submission.FieldStatus:
		return "status", true
	case submission.FieldExternalID:
		return "external_id", true
	case submission.FieldErrorMessage:
		return "error_message", true
	case submission.FieldResult:
		return "result", true
	default:
		return "", false
	}
}

func taskFieldColumn(field string) (string, bool) {
	switch field {
	case "status":
		return "status", true
	case "externalTaskId":
		return "external_task_id", true
	case "startedAt":
		return "started_at", true
	case "endedAt":
		return "ended_at", true
	default:
		return "", false
	}
}

func (s *PostgresStore) FindByPeriod(ctx context.Context, from, to time.Time, filter PeriodFilter) ([]submission.Submission, error) {
	query := `
		SELECT submission_id, route_id, workflow_id, external_id, parameters,
		       status, submitted_at, last_updated_at, error_message, result, version
		FROM submissions
		WHERE submitted_at >= $1 AND submitted_at < $2
	`
	args := []interface{}{from, to}
	argN := 3

	if filter.RouteID != "" {
		query += fmt.Sprintf(" AND route_id = $%d", argN)
		args = append(args, filter.RouteID)
		argN++
	}
	if filter.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argN)
		args = append(args, filter.WorkflowID)
		argN++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, filter.Status)
		argN++
	}
	for k, v := range filter.Parameters {
		query += fmt.Sprintf(" AND parameters->>'%s' = $%d", k, argN)
		args = append(args, fmt.Sprint(v))
		argN++
	}

	query += " ORDER BY submitted_at ASC, submission_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying submissions by period: %w", err)
	}
	defer rows.Close()

	var out []submission.Submission
	for rows.Next() {
		var sub submission.Submission
		var params, result []byte
		if err := rows.Scan(&sub.SubmissionID, &sub.RouteID, &sub.WorkflowID, &sub.ExternalID, &params,
			&sub.Status, &sub.SubmittedAt, &sub.LastUpdatedAt, &sub.ErrorMessage, &result, &sub.Version); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		_ = json.Unmarshal(params, &sub.Parameters)
		if len(result) > 0 {
			_ = json.Unmarshal(result, &sub.Result)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, routeID, externalID string) (*submission.Submission, error) {
	var submissionID string
	err := s.pool.QueryRow(ctx,
		`SELECT submission_id FROM submissions WHERE route_id = $1 AND external_id = $2`,
		routeID, externalID).Scan(&submissionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission by external id %s: %w", externalID, err)
	}
	return s.Get(ctx, submissionID)
}

// ListNonTerminal walks the last_updated_at index to hand the poller its
// staleness candidates, oldest first. Tasks are not hydrated here — the
// refresh path re-reads the full submission before diffing.
func (s *PostgresStore) ListNonTerminal(ctx context.Context) ([]submission.Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT submission_id, route_id, workflow_id, external_id, parameters,
		       status, submitted_at, last_updated_at, error_message, result, version
		FROM submissions
		WHERE status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		ORDER BY last_updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying non-terminal submissions: %w", err)
	}
	defer rows.Close()

	var out []submission.Submission
	for rows.Next() {
		var sub submission.Submission
		var params, result []byte
		if err := rows.Scan(&sub.SubmissionID, &sub.RouteID, &sub.WorkflowID, &sub.ExternalID, &params,
			&sub.Status, &sub.SubmittedAt, &sub.LastUpdatedAt, &sub.ErrorMessage, &result, &sub.Version); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		_ = json.Unmarshal(params, &sub.Parameters)
		if len(result) > 0 {
			_ = json.Unmarshal(result, &sub.Result)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func emptyJSON(m map[string]interface{}) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, _ := json.Marshal(m)
	return b
}
