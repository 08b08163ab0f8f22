package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/taskweave/internal/adapter"
	"github.com/aristath/taskweave/internal/scheduler"
	"github.com/aristath/taskweave/internal/taskfile"
)

// SaveRunState writes a full snapshot of the run, replacing the previous
// one. The task definition is stored as JSON next to its execution state.
func (s *SQLiteStore) SaveRunState(ctx context.Context, st scheduler.RunState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, project, status, start_time, end_time, cost_usd, input_tokens, output_tokens, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			project = excluded.project,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			cost_usd = excluded.cost_usd,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			updated_at = CURRENT_TIMESTAMP
	`, st.ID, st.Project, string(st.Status), formatTime(st.StartTime), formatTime(st.EndTime),
		st.CostUSD, st.InputTokens, st.OutputTokens)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ?`, st.ID); err != nil {
		return fmt.Errorf("failed to delete old tasks: %w", err)
	}

	for i, t := range st.Tasks {
		def, err := json.Marshal(t.Task)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		var result sql.NullString
		if t.Result != nil {
			b, err := json.Marshal(t.Result)
			if err != nil {
				return fmt.Errorf("failed to encode result of task %s: %w", t.ID, err)
			}
			result = sql.NullString{String: string(b), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (run_id, id, position, definition, state, retry_count, assigned_model, start_time, end_time, error, note, result)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.ID, t.ID, i, string(def), string(t.State), t.RetryCount, t.AssignedModel,
			formatTime(t.StartTime), formatTime(t.EndTime), t.Error, t.Note, result)
		if err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadRunState reads a run back. It returns ErrRunNotFound if id is unknown.
func (s *SQLiteStore) LoadRunState(ctx context.Context, id string) (scheduler.RunState, error) {
	st := scheduler.RunState{ID: id}
	var status string
	var start, end sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT project, status, start_time, end_time, cost_usd, input_tokens, output_tokens
		FROM runs
		WHERE id = ?
	`, id).Scan(&st.Project, &status, &start, &end, &st.CostUSD, &st.InputTokens, &st.OutputTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.RunState{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	if err != nil {
		return scheduler.RunState{}, fmt.Errorf("failed to query run: %w", err)
	}
	st.Status = scheduler.RunStatus(status)
	if st.StartTime, err = parseTime(start); err != nil {
		return scheduler.RunState{}, err
	}
	if st.EndTime, err = parseTime(end); err != nil {
		return scheduler.RunState{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT definition, state, retry_count, assigned_model, start_time, end_time, error, note, result
		FROM tasks
		WHERE run_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return scheduler.RunState{}, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return scheduler.RunState{}, err
		}
		st.Tasks = append(st.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return scheduler.RunState{}, fmt.Errorf("error iterating tasks: %w", err)
	}
	return st, nil
}

func scanTask(rows *sql.Rows) (scheduler.Task, error) {
	var (
		t          scheduler.Task
		def, state string
		start, end sql.NullString
		result     sql.NullString
	)
	if err := rows.Scan(&def, &state, &t.RetryCount, &t.AssignedModel, &start, &end, &t.Error, &t.Note, &result); err != nil {
		return t, fmt.Errorf("failed to scan task: %w", err)
	}

	var d taskfile.Task
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		return t, fmt.Errorf("failed to decode task definition: %w", err)
	}
	t.Task = d
	t.State = scheduler.TaskState(state)

	var err error
	if t.StartTime, err = parseTime(start); err != nil {
		return t, err
	}
	if t.EndTime, err = parseTime(end); err != nil {
		return t, err
	}
	if result.Valid {
		var r adapter.ExecutionResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return t, fmt.Errorf("failed to decode result of task %s: %w", d.ID, err)
		}
		t.Result = &r
	}
	return t, nil
}

// ListRuns returns every run, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.project, r.status, r.start_time, r.end_time, r.cost_usd,
			(SELECT COUNT(*) FROM tasks t WHERE t.run_id = r.id)
		FROM runs r
		ORDER BY r.start_time DESC, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		var start, end sql.NullString
		if err := rows.Scan(&r.ID, &r.Project, &status, &start, &end, &r.CostUSD, &r.TaskCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = scheduler.RunStatus(status)
		if r.StartTime, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.EndTime, err = parseTime(end); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
