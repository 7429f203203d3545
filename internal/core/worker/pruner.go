package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/juror/internal/infra/storage"
)

// Pruner deletes run and vote history older than the retention period.
type Pruner struct {
	retention time.Duration
	runRepo   storage.RunRepository
	voteRepos []storage.VoteRepository
	now       func() time.Time
}

// NewPruner creates a new Pruner worker.
func NewPruner(
	retention time.Duration,
	runRepo storage.RunRepository,
	voteRepos ...storage.VoteRepository,
) *Pruner {
	return &Pruner{
		retention: retention,
		runRepo:   runRepo,
		voteRepos: voteRepos,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	// 10% of retention, clamped to [1m, 1h]
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	if err := p.Prune(ctx); err != nil {
		slog.Error("[Pruner] failed to prune history", "error", err)
	}
}

// Prune runs a single pass and reports every repository failure.
func (p *Pruner) Prune(ctx context.Context) error {
	threshold := p.now().Add(-p.retention)
	var errs []error

	if p.runRepo != nil {
		n, err := p.runRepo.DeleteRunsBefore(ctx, threshold)
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			slog.Debug("[Pruner] pruned runs", "count", n)
		}
	}

	for _, repo := range p.voteRepos {
		n, err := repo.DeleteVotesBefore(ctx, threshold)
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			slog.Debug("[Pruner] pruned votes", "count", n)
		}
	}

	return errors.Join(errs...)
}
