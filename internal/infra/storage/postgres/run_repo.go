package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/infra/storage"
)

type runRow struct {
	RunID           string    `db:"run_id"`
	Account         string    `db:"account"`
	Outcome         string    `db:"outcome"`
	State           string    `db:"state"`
	Reason          string    `db:"reason"`
	Iterations      int       `db:"iterations"`
	OpinionVotes    int       `db:"opinion_votes"`
	FallbackVotes   int       `db:"fallback_votes"`
	BudgetRemaining int       `db:"budget_remaining"`
	Error           string    `db:"error"`
	StartedAt       time.Time `db:"started_at"`
	FinishedAt      time.Time `db:"finished_at"`
}

func (r runRow) toDomain() *domain.RunResult {
	run := &domain.RunResult{
		RunID:           r.RunID,
		Account:         r.Account,
		Outcome:         domain.Outcome(r.Outcome),
		State:           r.State,
		Reason:          r.Reason,
		Iterations:      r.Iterations,
		OpinionVotes:    r.OpinionVotes,
		FallbackVotes:   r.FallbackVotes,
		BudgetRemaining: r.BudgetRemaining,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
	}
	if r.Error != "" {
		run.Err = errors.New(r.Error)
	}
	return run
}

const runColumns = `run_id, account, outcome, state, reason, iterations, opinion_votes,
	fallback_votes, budget_remaining, error, started_at, finished_at`

// RunRepo implements storage.RunRepository using PostgreSQL.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new PostgreSQL run repository.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

// SaveRun upserts a finished run.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunResult) error {
	row := runRow{
		RunID:           run.RunID,
		Account:         run.Account,
		Outcome:         string(run.Outcome),
		State:           run.State,
		Reason:          run.Reason,
		Iterations:      run.Iterations,
		OpinionVotes:    run.OpinionVotes,
		FallbackVotes:   run.FallbackVotes,
		BudgetRemaining: run.BudgetRemaining,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
	}
	if run.Err != nil {
		row.Error = run.Err.Error()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (:run_id, :account, :outcome, :state, :reason, :iterations, :opinion_votes,
			:fallback_votes, :budget_remaining, :error, :started_at, :finished_at)
		ON CONFLICT (run_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			state = EXCLUDED.state,
			reason = EXCLUDED.reason,
			iterations = EXCLUDED.iterations,
			opinion_votes = EXCLUDED.opinion_votes,
			fallback_votes = EXCLUDED.fallback_votes,
			budget_remaining = EXCLUDED.budget_remaining,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at`, row)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM runs WHERE run_id = $1`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return row.toDomain(), nil
}

// ListRuns returns the most recent runs.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []runRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM runs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*domain.RunResult, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}

// DeleteRunsBefore removes runs that finished before t.
func (r *RunRepo) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE finished_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}
