package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/infra/storage"
)

type MemoryStorage struct {
	runs  map[string]*domain.RunResult
	votes []*domain.VoteRecord
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*domain.RunResult),
	}
}

// -----------------------------------------------------------------------------
// Run Repository
// -----------------------------------------------------------------------------

type RunRepo struct {
	store *MemoryStorage
}

func NewRunRepo(store *MemoryStorage) *RunRepo {
	return &RunRepo{store: store}
}

func (r *RunRepo) SaveRun(ctx context.Context, run *domain.RunResult) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *run
	r.store.runs[run.RunID] = &c
	return nil
}

func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.RunResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	run, ok := r.store.runs[runID]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	c := *run
	return &c, nil
}

func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.RunResult, 0, len(r.store.runs))
	for _, run := range r.store.runs {
		c := *run
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RunRepo) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, run := range r.store.runs {
		if run.FinishedAt.Before(t) {
			delete(r.store.runs, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Vote Repository
// -----------------------------------------------------------------------------

type VoteRepo struct {
	store *MemoryStorage
}

func NewVoteRepo(store *MemoryStorage) *VoteRepo {
	return &VoteRepo{store: store}
}

func (r *VoteRepo) RecordVote(ctx context.Context, vote *domain.VoteRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c := *vote
	r.store.votes = append(r.store.votes, &c)
	return nil
}

func (r *VoteRepo) RecentVotes(ctx context.Context, limit int) ([]*domain.VoteRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	n := len(r.store.votes)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]*domain.VoteRecord, 0, n)
	for i := len(r.store.votes) - 1; i >= 0 && len(out) < n; i-- {
		c := *r.store.votes[i]
		out = append(out, &c)
	}
	return out, nil
}

func (r *VoteRepo) DeleteVotesBefore(ctx context.Context, t time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	kept := r.store.votes[:0]
	var n int64
	for _, v := range r.store.votes {
		if v.VotedAt.Before(t) {
			n++
			continue
		}
		kept = append(kept, v)
	}
	r.store.votes = kept
	return n, nil
}
