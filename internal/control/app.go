package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/juror/internal/core/config"
	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/core/session"
	"github.com/vietddude/juror/internal/core/worker"
	"github.com/vietddude/juror/internal/infra/jury"
	"github.com/vietddude/juror/internal/infra/notify"
	redisclient "github.com/vietddude/juror/internal/infra/redis"
	"github.com/vietddude/juror/internal/infra/storage"
	"github.com/vietddude/juror/internal/infra/storage/memory"
	"github.com/vietddude/juror/internal/infra/storage/postgres"
	"github.com/vietddude/juror/internal/voting/loop"
	"github.com/vietddude/juror/internal/voting/policy"
)

const (
	lockTTL          = 10 * time.Minute
	finishedCacheTTL = 24 * time.Hour
)

// JuryService is everything a run needs from the remote case service.
type JuryService interface {
	loop.CaseService
	policy.CaseService
}

// ServiceFactory builds the remote service for a session.
type ServiceFactory func(sess *session.Session) (JuryService, error)

// App wires storage, the remote client and the control loop together.
type App struct {
	cfg      config.AppConfig
	runs     storage.RunRepository
	votes    []storage.VoteRepository
	reader   storage.VoteRepository
	db       *postgres.DB
	redis    *redisclient.Client
	notifier *notify.Notifier
	registry *Registry
	pruner   *worker.Pruner
	log      *slog.Logger

	newService ServiceFactory
	sleeper    delay.Sleeper
}

// NewApp creates the application with all dependencies initialized.
func NewApp(ctx context.Context, cfg config.AppConfig) (*App, error) {
	a := &App{
		cfg:      cfg,
		notifier: notify.NewNotifier(cfg.Notify),
		log:      slog.Default(),
		sleeper:  delay.TimerSleeper{},
	}
	a.newService = func(sess *session.Session) (JuryService, error) {
		c, err := jury.NewClient(cfg.Client, sess)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		a.runs = postgres.NewRunRepo(db)
		a.votes = append(a.votes, postgres.NewVoteRepo(db))
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		a.runs = memory.NewRunRepo(store)
		a.votes = append(a.votes, memory.NewVoteRepo(store))
		slog.Info("Using Memory storage")
	}

	var journal storage.VoteRepository
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, vote journal disabled", "error", err)
		} else {
			a.redis = rc
			journal = redisclient.NewVoteJournal(rc, cfg.History.JournalSize)
			a.votes = append(a.votes, journal)
			slog.Info("Redis vote journal enabled")
		}
	}

	// Reads come from the store that outlives the process: postgres when
	// configured, else the Redis journal, else memory.
	a.reader = a.votes[0]
	if a.db == nil && journal != nil {
		a.reader = journal
	}
	registry, err := NewRegistry(1000, finishedCacheTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init run registry: %w", err)
	}
	a.registry = registry
	a.pruner = worker.NewPruner(cfg.History.Retention, a.runs, a.votes...)

	return a, nil
}

// Registry returns the detached run registry.
func (a *App) Registry() *Registry { return a.registry }

// Runs returns the run history repository.
func (a *App) Runs() storage.RunRepository { return a.runs }

// Votes returns the vote history repository reads are served from.
func (a *App) Votes() storage.VoteRepository { return a.reader }

// Health checks the backing stores.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StartBackground starts the pruner and DB metrics collector.
func (a *App) StartBackground(ctx context.Context) {
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	go a.pruner.Start(ctx)
}

// Close releases storage connections.
func (a *App) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
}

// prepare builds a runner for the cookie. Nothing is started.
func (a *App) prepare(cookie string) (*loop.Runner, *session.Session, error) {
	sess := session.Parse(cookie)
	if err := sess.Validate(); err != nil {
		return nil, nil, err
	}
	svc, err := a.newService(sess)
	if err != nil {
		return nil, nil, err
	}

	runID := uuid.NewString()
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	// The runner tags its own events with the run id.
	resolver := policy.New(PolicyConfig(a.cfg.Jury), svc, a.sleeper, rng, a.log.With("run", runID))
	runner, err := loop.New(sess, LoopConfig(a.cfg.Jury), loop.Deps{
		RunID:    runID,
		Service:  svc,
		Resolver: resolver,
		Sleeper:  a.sleeper,
		Rand:     rng,
		Recorder: recorders(a.votes),
		Logger:   a.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner, sess, nil
}

// Run executes a run in the foreground and notifies on completion.
func (a *App) Run(ctx context.Context, cookie string) (domain.RunResult, error) {
	runner, sess, err := a.prepare(cookie)
	if err != nil {
		return domain.RunResult{}, err
	}
	release, err := a.claim(ctx, sess.Account(), runner.ID())
	if err != nil {
		return domain.RunResult{}, err
	}
	defer release()

	res := runner.Run(ctx)
	a.persist(res)

	if a.notifier.Enabled() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := a.notifier.Notify(nctx, res); err != nil {
			a.log.Warn("Failed to send completion notification", "run", res.RunID, "error", err)
		}
	}
	return res, nil
}

// Start launches a detached run. Its result is recorded and logged only.
func (a *App) Start(ctx context.Context, cookie string) (*loop.Handle, error) {
	runner, sess, err := a.prepare(cookie)
	if err != nil {
		return nil, err
	}
	release, err := a.claim(ctx, sess.Account(), runner.ID())
	if err != nil {
		return nil, err
	}

	// The run outlives the request that started it.
	h := runner.Start(context.WithoutCancel(ctx), func(res domain.RunResult) {
		a.persist(res)
		a.registry.Complete(res)
		release()
	})
	a.registry.Track(h)
	return h, nil
}

// Lookup finds a run by id, active or historic.
func (a *App) Lookup(ctx context.Context, runID string) (RunView, error) {
	if v, ok := a.registry.Get(runID); ok {
		return v, nil
	}
	res, err := a.runs.GetRun(ctx, runID)
	if err != nil {
		return RunView{}, err
	}
	return viewOf(*res), nil
}

// claim reserves the account locally and, with Redis, across processes.
func (a *App) claim(ctx context.Context, account, runID string) (func(), error) {
	if err := a.registry.Reserve(account, runID); err != nil {
		return nil, err
	}
	if a.redis == nil {
		return func() { a.registry.Release(account, runID) }, nil
	}

	ok, err := a.redis.AcquireLock(ctx, account, runID, lockTTL)
	if err != nil {
		a.registry.Release(account, runID)
		return nil, err
	}
	if !ok {
		a.registry.Release(account, runID)
		return nil, ErrRunInProgress
	}

	stop := make(chan struct{})
	go a.keepLock(account, runID, stop)

	return func() {
		close(stop)
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.redis.ReleaseLock(rctx, account, runID); err != nil {
			a.log.Warn("Failed to release run lock", "account", account, "error", err)
		}
		a.registry.Release(account, runID)
	}, nil
}

func (a *App) keepLock(account, runID string, stop <-chan struct{}) {
	ticker := time.NewTicker(lockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			held, err := a.redis.RefreshLock(ctx, account, runID, lockTTL)
			cancel()
			if err != nil {
				a.log.Warn("Failed to refresh run lock", "account", account, "error", err)
			} else if !held {
				a.log.Warn("Run lock lost to another process", "account", account, "run", runID)
				return
			}
		}
	}
}

func (a *App) persist(res domain.RunResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.runs.SaveRun(ctx, &res); err != nil {
		a.log.Warn("Failed to save run", "run", res.RunID, "error", err)
	}
}

// LoopConfig maps the jury settings onto the control loop.
func LoopConfig(j config.JuryConfig) loop.Config {
	return loop.Config{
		Repeat:           j.Repeat,
		ErrorBudget:      j.ErrorBudget,
		WaitTime:         j.WaitDuration(),
		ErrorBackoff:     j.ErrorBackoff,
		ExceptionBackoff: j.ExceptionBackoff,
	}
}

// PolicyConfig maps the jury settings onto the decision policy.
func PolicyConfig(j config.JuryConfig) policy.Config {
	return policy.Config{
		UseOpinion:    j.Opinion,
		OpinionMin:    j.OpinionMin,
		InsiderWeight: j.InsiderWeight,
		Fallback:      j.Vote,
		Excluded:      j.NotOpinion,
		Insiders:      j.Insiders,
		Anonymous:     j.Anonymous,
		ConfirmDelay:  j.ConfirmDelay,
	}
}

// multiRecorder fans a vote out to every history store.
type multiRecorder []storage.VoteRepository

func recorders(repos []storage.VoteRepository) loop.Recorder {
	return multiRecorder(repos)
}

func (m multiRecorder) RecordVote(ctx context.Context, vote *domain.VoteRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordVote(ctx, vote); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartRun launches a detached run and returns its id. An empty cookie
// falls back to the configured session.
func (a *App) StartRun(ctx context.Context, cookie string) (string, error) {
	if cookie == "" {
		cookie = a.cfg.Session.Cookie
	}
	h, err := a.Start(ctx, cookie)
	if err != nil {
		return "", err
	}
	return h.ID(), nil
}

// Active returns the runs in progress.
func (a *App) Active() []loop.Status { return a.registry.Active() }

// Cancel stops an active run.
func (a *App) Cancel(runID string) bool { return a.registry.Cancel(runID) }

// History returns finished runs, newest first.
func (a *App) History(ctx context.Context, limit int) ([]*domain.RunResult, error) {
	return a.runs.ListRuns(ctx, limit)
}

// RecentVotes returns submitted votes, newest first.
func (a *App) RecentVotes(ctx context.Context, limit int) ([]*domain.VoteRecord, error) {
	return a.Votes().RecentVotes(ctx, limit)
}

// Shutdown stops every detached run.
func (a *App) Shutdown(timeout time.Duration) { a.registry.Shutdown(timeout) }
