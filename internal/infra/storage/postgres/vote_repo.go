package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
)

// VoteRepo implements storage.VoteRepository using PostgreSQL.
type VoteRepo struct {
	db *DB
}

// NewVoteRepo creates a new PostgreSQL vote repository.
func NewVoteRepo(db *DB) *VoteRepo {
	return &VoteRepo{db: db}
}

// RecordVote inserts a submitted vote.
func (r *VoteRepo) RecordVote(ctx context.Context, vote *domain.VoteRecord) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO votes (run_id, case_id, vote, label, source, author, insiders, anonymous, voted_at)
		VALUES (:run_id, :case_id, :vote, :label, :source, :author, :insiders, :anonymous, :voted_at)`,
		vote)
	if err != nil {
		return fmt.Errorf("failed to record vote: %w", err)
	}
	return nil
}

// RecentVotes returns the most recent votes.
func (r *VoteRepo) RecentVotes(ctx context.Context, limit int) ([]*domain.VoteRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var votes []*domain.VoteRecord
	err := r.db.SelectContext(ctx, &votes, `
		SELECT run_id, case_id, vote, label, source, author, insiders, anonymous, voted_at
		FROM votes ORDER BY voted_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	return votes, nil
}

// DeleteVotesBefore removes votes submitted before t.
func (r *VoteRepo) DeleteVotesBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM votes WHERE voted_at < $1`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete votes: %w", err)
	}
	return res.RowsAffected()
}
