package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"replypilot/internal/domain"
)

// CreateRun records a new run with its full state serialized as JSON. The
// indexed columns exist for listing and dedup queries only; the payload is
// the source of truth.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, platform, message_id, state, payload, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Message.Platform, run.Message.ID, string(run.State), string(payload), run.StartedAt,
	)
	return err
}

func (s *SQLiteStore) AppendStage(ctx context.Context, runID string, rec domain.StageRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (run_id, stage, capability, input, output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, rec.Stage, rec.Capability, string(rec.Input), string(rec.Output), rec.At,
	)
	return err
}

// FinishRun overwrites the payload with the final run state. Terminal states
// only; an open run stays as written by CreateRun plus its stage rows.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *domain.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, payload = ?, completed_at = ? WHERE id = ?`,
		string(run.State), string(payload), run.CompletedAt, run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var run domain.PipelineRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("corrupt payload for run %s: %w", id, err)
	}

	// The stage rows are authoritative for the audit trail: an open run's
	// payload predates its stages.
	stages, err := s.runStages(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(stages) > 0 {
		run.Stages = stages
	}
	return &run, nil
}

func (s *SQLiteStore) runStages(ctx context.Context, runID string) ([]domain.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, capability, input, output, created_at
		 FROM run_stages WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []domain.StageRecord
	for rows.Next() {
		var rec domain.StageRecord
		var input, output sql.NullString
		if err := rows.Scan(&rec.Stage, &rec.Capability, &input, &output, &rec.At); err != nil {
			return nil, err
		}
		rec.Input = json.RawMessage(input.String)
		rec.Output = json.RawMessage(output.String)
		stages = append(stages, rec)
	}
	return stages, rows.Err()
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.PipelineRun
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var run domain.PipelineRun
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, fmt.Errorf("corrupt run payload: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkMessageSeen records a platform message id and reports whether it was
// already present. The insert-or-ignore makes the check atomic under the
// single-writer connection.
func (s *SQLiteStore) MarkMessageSeen(ctx context.Context, platform, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (platform, message_id) VALUES (?, ?)`,
		platform, messageID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// UnmarkMessageSeen forgets a message id so a platform redelivery gets a
// fresh attempt. Deleting an unknown id is a no-op.
func (s *SQLiteStore) UnmarkMessageSeen(ctx context.Context, platform, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_messages WHERE platform = ? AND message_id = ?`,
		platform, messageID,
	)
	return err
}
