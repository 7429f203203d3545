package control

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/voting/loop"
)

// ErrRunInProgress is returned when the account already has an active run.
var ErrRunInProgress = errors.New("a run is already in progress for this account")

// RunView is what callers see of a run, active or finished.
type RunView struct {
	Status loop.Status       `json:"status"`
	Result *domain.RunResult `json:"result,omitempty"`
}

// Registry tracks detached runs. Finished results stay in an in-process
// cache for a while so they can still be looked up by id.
type Registry struct {
	mu       sync.Mutex
	active   map[string]*loop.Handle
	accounts map[string]string // account -> run id

	finished *ristretto.Cache[string, domain.RunResult]
	ttl      time.Duration
}

// NewRegistry creates a registry keeping up to maxFinished results for ttl.
func NewRegistry(maxFinished int64, ttl time.Duration) (*Registry, error) {
	if maxFinished <= 0 {
		maxFinished = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, domain.RunResult]{
		NumCounters: maxFinished * 10,
		MaxCost:     maxFinished,
		BufferItems: 64,
		// One unit per result
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		active:   make(map[string]*loop.Handle),
		accounts: make(map[string]string),
		finished: c,
		ttl:      ttl,
	}, nil
}

// Reserve claims the run slot for an account.
func (r *Registry) Reserve(account, runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.accounts[account]; busy {
		return ErrRunInProgress
	}
	r.accounts[account] = runID
	return nil
}

// Release frees an account slot without a finished result.
func (r *Registry) Release(account, runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.accounts[account] == runID {
		delete(r.accounts, account)
	}
}

// Track registers a started run. A run that already completed is skipped.
func (r *Registry) Track(h *loop.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.finished.Get(h.ID()); done {
		return
	}
	r.active[h.ID()] = h
}

// Complete moves a run from active to finished.
func (r *Registry) Complete(res domain.RunResult) {
	r.finished.SetWithTTL(res.RunID, res, 1, r.ttl)
	r.finished.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, res.RunID)
	if r.accounts[res.Account] == res.RunID {
		delete(r.accounts, res.Account)
	}
}

// Get returns the view of a run known to this process.
func (r *Registry) Get(runID string) (RunView, bool) {
	r.mu.Lock()
	h, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		return RunView{Status: h.Status()}, true
	}

	res, ok := r.finished.Get(runID)
	if !ok {
		return RunView{}, false
	}
	return viewOf(res), true
}

// Active returns status snapshots of all active runs, oldest first.
func (r *Registry) Active() []loop.Status {
	r.mu.Lock()
	out := make([]loop.Status, 0, len(r.active))
	for _, h := range r.active {
		out = append(out, h.Status())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Cancel stops an active run. It returns false if the run isn't active.
func (r *Registry) Cancel(runID string) bool {
	r.mu.Lock()
	h, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.Cancel()
	return true
}

// Shutdown cancels every active run and waits up to timeout for each.
func (r *Registry) Shutdown(timeout time.Duration) {
	r.mu.Lock()
	handles := make([]*loop.Handle, 0, len(r.active))
	for _, h := range r.active {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *loop.Handle) {
			defer wg.Done()
			h.Shutdown(timeout)
		}(h)
	}
	wg.Wait()
}

// Close releases the result cache.
func (r *Registry) Close() {
	r.finished.Close()
}

func viewOf(res domain.RunResult) RunView {
	return RunView{
		Status: loop.Status{
			RunID:           res.RunID,
			Account:         res.Account,
			State:           loop.State(res.State),
			Iterations:      res.Iterations,
			OpinionVotes:    res.OpinionVotes,
			FallbackVotes:   res.FallbackVotes,
			BudgetRemaining: res.BudgetRemaining,
			StartedAt:       res.StartedAt,
		},
		Result: &res,
	}
}
