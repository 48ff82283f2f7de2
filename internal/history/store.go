// internal/history/store.go
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/droidpilot-ai/droidpilot-cli/internal/agent"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists finished task runs to PostgreSQL. It implements
// agent.HistorySink; failures here never reach the task loop, the
// orchestrator only logs them.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("history"),
	}, nil
}

const sqlUpsertTask = `
    INSERT INTO tasks (id, description, created_at, recorded_at, step_count)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (id) DO UPDATE SET
        recorded_at = EXCLUDED.recorded_at,
        step_count = EXCLUDED.step_count;
`

const sqlInsertStep = `
    INSERT INTO steps (task_id, step_index, screenshot_ref, thinking, action_text, action, dispatch_outcome, dispatch_detail, dispatch_attempts, executed_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    ON CONFLICT (task_id, step_index) DO NOTHING;
`

// Record writes the task row and all of its step rows in one transaction.
// Re-recording the same task is idempotent.
func (s *Store) Record(ctx context.Context, task agent.Task, steps []agent.Step) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, sqlUpsertTask,
		task.ID, task.Description, task.CreatedAt.UTC(), now, len(steps)); err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
	}

	for _, step := range steps {
		encoded, err := json.Marshal(step.Action)
		if err != nil {
			encoded = []byte("{}")
		}
		if _, err := tx.Exec(ctx, sqlInsertStep,
			task.ID, step.Index, step.ScreenshotRef,
			step.ThinkingText, step.ActionText, encoded,
			string(step.Dispatch.Outcome), step.Dispatch.Detail, step.Dispatch.Attempts,
			step.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert step %d of task %s: %w", step.Index, task.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("Task run recorded.", zap.String("task_id", task.ID), zap.Int("steps", len(steps)))
	return nil
}

// TaskSummary is one row of the recorded-task listing.
type TaskSummary struct {
	ID          string
	Description string
	CreatedAt   time.Time
	RecordedAt  time.Time
	StepCount   int
}

// ListTasks returns the most recently recorded tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, limit int) ([]TaskSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
        SELECT id, description, created_at, recorded_at, step_count
        FROM tasks
        ORDER BY recorded_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []TaskSummary
	for rows.Next() {
		var t TaskSummary
		if err := rows.Scan(&t.ID, &t.Description, &t.CreatedAt, &t.RecordedAt, &t.StepCount); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Recorder wraps a sink with a per-write deadline so a stalled database can
// never hold a record open indefinitely.
type Recorder struct {
	sink    agent.HistorySink
	timeout time.Duration
}

// NewRecorder creates the wrapper. A non-positive timeout defaults to 10s.
func NewRecorder(sink agent.HistorySink, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{sink: sink, timeout: timeout}
}

func (r *Recorder) Record(ctx context.Context, task agent.Task, steps []agent.Step) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.sink.Record(ctx, task, steps)
}

// Noop is a HistorySink that records nothing. Used when history is disabled.
type Noop struct{}

func (Noop) Record(context.Context, agent.Task, []agent.Step) error { return nil }
