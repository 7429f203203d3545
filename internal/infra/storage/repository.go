package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RunRepository handles finished run history
type RunRepository interface {
	// SaveRun stores a finished run
	SaveRun(ctx context.Context, run *domain.RunResult) error

	// GetRun retrieves a run by id
	GetRun(ctx context.Context, runID string) (*domain.RunResult, error)

	// ListRuns returns the most recent runs, newest first
	ListRuns(ctx context.Context, limit int) ([]*domain.RunResult, error)

	// DeleteRunsBefore removes runs that finished before t
	DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error)
}

// VoteRepository handles submitted vote history
type VoteRepository interface {
	// RecordVote stores a submitted vote
	RecordVote(ctx context.Context, vote *domain.VoteRecord) error

	// RecentVotes returns the most recent votes, newest first
	RecentVotes(ctx context.Context, limit int) ([]*domain.VoteRecord, error)

	// DeleteVotesBefore removes votes submitted before t
	DeleteVotesBefore(ctx context.Context, t time.Time) (int64, error)
}
