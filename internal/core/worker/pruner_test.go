package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/infra/storage/memory"
)

type failingVotes struct{}

func (failingVotes) RecordVote(context.Context, *domain.VoteRecord) error { return nil }
func (failingVotes) RecentVotes(context.Context, int) ([]*domain.VoteRecord, error) {
	return nil, nil
}
func (failingVotes) DeleteVotesBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("unavailable")
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	store := memory.NewMemoryStorage()
	runs := memory.NewRunRepo(store)
	votes := memory.NewVoteRepo(store)

	_ = runs.SaveRun(ctx, &domain.RunResult{RunID: "old", FinishedAt: now.Add(-48 * time.Hour)})
	_ = runs.SaveRun(ctx, &domain.RunResult{RunID: "new", FinishedAt: now.Add(-time.Hour)})
	_ = votes.RecordVote(ctx, &domain.VoteRecord{CaseID: "old", VotedAt: now.Add(-48 * time.Hour)})
	_ = votes.RecordVote(ctx, &domain.VoteRecord{CaseID: "new", VotedAt: now.Add(-time.Hour)})

	p := NewPruner(24*time.Hour, runs, votes)
	p.now = func() time.Time { return now }

	if err := p.Prune(ctx); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	left, _ := runs.ListRuns(ctx, 0)
	if len(left) != 1 || left[0].RunID != "new" {
		t.Errorf("runs after prune = %d, want only new", len(left))
	}
	recent, _ := votes.RecentVotes(ctx, 0)
	if len(recent) != 1 || recent[0].CaseID != "new" {
		t.Errorf("votes after prune = %d, want only new", len(recent))
	}
}

func TestPruneReportsFailures(t *testing.T) {
	store := memory.NewMemoryStorage()
	p := NewPruner(time.Hour, memory.NewRunRepo(store), memory.NewVoteRepo(store), failingVotes{})

	if err := p.Prune(context.Background()); err == nil {
		t.Error("Prune should report the failing repository")
	}
}

func TestStartDisabled(t *testing.T) {
	p := NewPruner(0, nil)
	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when retention is disabled")
	}
}
