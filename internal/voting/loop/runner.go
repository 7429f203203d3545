// Package loop drives the case resolution workflow: fetch a case, resolve it,
// and decide from each remote response whether to continue, wait or stop.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/core/session"
	"github.com/vietddude/juror/internal/voting/metrics"
	"github.com/vietddude/juror/internal/voting/policy"
)

// ErrFinished is returned by Step once the run reached a terminal state.
var ErrFinished = errors.New("run already finished")

// CaseService is the remote case service as seen by the loop.
type CaseService interface {
	// NextCase returns the id of the next pending case. An empty id with a
	// nil error means no case is available.
	NextCase(ctx context.Context) (string, error)
	// ApplyEligibility asks the service to renew the juror qualification.
	ApplyEligibility(ctx context.Context) error
}

// Resolver decides on and submits a vote for one case.
type Resolver interface {
	Resolve(ctx context.Context, caseID string) (policy.Decision, error)
}

// Recorder keeps history of submitted votes.
type Recorder interface {
	RecordVote(ctx context.Context, vote *domain.VoteRecord) error
}

// Config is the loop part of the jury configuration.
type Config struct {
	// Repeat is how many times to wait for new cases; negative is unbounded.
	Repeat           int
	ErrorBudget      int
	WaitTime         time.Duration
	ErrorBackoff     delay.Window
	ExceptionBackoff delay.Window
}

// Deps are the collaborators of a run.
type Deps struct {
	RunID    string
	Service  CaseService
	Resolver Resolver
	Sleeper  delay.Sleeper
	Rand     *rand.Rand
	Recorder Recorder
	Logger   *slog.Logger
}

// Status is a point-in-time view of a run.
type Status struct {
	RunID           string    `json:"run_id"`
	Account         string    `json:"account"`
	State           State     `json:"state"`
	Iterations      int       `json:"iterations"`
	OpinionVotes    int       `json:"opinion_votes"`
	FallbackVotes   int       `json:"fallback_votes"`
	BudgetRemaining int       `json:"budget_remaining"`
	RepeatsLeft     int       `json:"repeats_left"`
	StartedAt       time.Time `json:"started_at"`
}

// Runner runs the control loop for one session. Iterations are strictly
// sequential; Status may be read from other goroutines.
type Runner struct {
	id       string
	account  string
	cfg      Config
	svc      CaseService
	resolver Resolver
	sleeper  delay.Sleeper
	rng      *rand.Rand
	recorder Recorder
	log      *slog.Logger

	mu            sync.Mutex
	state         State
	budget        *ErrorBudget
	repeats       *Repeats
	iterations    int
	opinionVotes  int
	fallbackVotes int
	reason        string
	lastErr       error
	startedAt     time.Time
}

// New creates a runner for the session. A session without the CSRF
// credential is a configuration error and no runner is created.
func New(sess *session.Session, cfg Config, deps Deps) (*Runner, error) {
	if sess == nil {
		return nil, domain.NewConfigurationError("no session", domain.ErrMissingCredential)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if deps.Service == nil || deps.Resolver == nil {
		return nil, domain.NewConfigurationError("runner needs a case service and a resolver", nil)
	}
	if deps.Sleeper == nil {
		deps.Sleeper = delay.TimerSleeper{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Runner{
		id:        deps.RunID,
		account:   sess.Account(),
		cfg:       cfg,
		svc:       deps.Service,
		resolver:  deps.Resolver,
		sleeper:   deps.Sleeper,
		rng:       deps.Rand,
		recorder:  deps.Recorder,
		log:       deps.Logger,
		state:     StateRunning,
		budget:    NewErrorBudget(cfg.ErrorBudget),
		repeats:   NewRepeats(cfg.Repeat),
		startedAt: time.Now(),
	}, nil
}

// ID returns the run id.
func (r *Runner) ID() string { return r.id }

// Run iterates until the run reaches a terminal state and returns its result.
func (r *Runner) Run(ctx context.Context) domain.RunResult {
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	r.emit(ctx, Event{Level: slog.LevelInfo, Message: "Jury run started", Attrs: []slog.Attr{
		slog.String("account", r.account),
		slog.Int("budget", r.cfg.ErrorBudget),
		slog.Int("repeat", r.cfg.Repeat),
	}})

	for {
		if _, err := r.Step(ctx); errors.Is(err, ErrFinished) {
			break
		}
	}

	result := r.Result()
	metrics.RunsFinished.WithLabelValues(string(result.Outcome)).Inc()

	level := slog.LevelInfo
	if result.Outcome == domain.OutcomeFailure {
		level = slog.LevelError
	}
	r.emit(ctx, Event{Level: level, Message: "Jury run finished", Cause: result.Err, Attrs: []slog.Attr{
		slog.String("outcome", string(result.Outcome)),
		slog.String("state", result.State),
		slog.String("reason", result.Reason),
		slog.Int("votes", result.Votes()),
		slog.Int("iterations", result.Iterations),
	}})
	return result
}

// Step runs a single iteration: fetch the next case and act on the response.
// It returns the action taken, or ErrFinished when the run is over.
func (r *Runner) Step(ctx context.Context) (Action, error) {
	if r.State().Terminal() {
		return 0, ErrFinished
	}
	if r.budget.Exhausted() {
		r.finish(StateTerminatedExhausted, "error budget exhausted")
		return 0, ErrFinished
	}
	if ctx.Err() != nil {
		r.finish(StateCancelled, "cancelled")
		return 0, ErrFinished
	}

	r.mu.Lock()
	r.iterations++
	r.mu.Unlock()

	caseID, err := r.svc.NextCase(ctx)
	if err != nil && ctx.Err() != nil {
		r.finish(StateCancelled, "cancelled")
		return 0, ErrFinished
	}

	action := Classify(caseID, err)
	metrics.Iterations.WithLabelValues(action.String()).Inc()

	switch action {
	case ActionResolve:
		r.resolve(ctx, caseID)
	case ActionWait:
		r.waitForCases(ctx, err)
	case ActionReapply:
		r.reapply(ctx, err)
	case ActionComplete:
		r.emit(ctx, Event{Level: slog.LevelInfo, Message: "All cases for today are done", Cause: err})
		r.finish(StateTerminatedSuccess, "case quota full")
	case ActionIneligible:
		r.emit(ctx, Event{
			Level:   slog.LevelWarn,
			Message: "Account is not a juror; apply manually if this is expected",
			Cause:   err,
		})
		r.finish(StateTerminatedIneligible, "not eligible")
	case ActionRetry:
		r.fail(ctx, err, "Fetching next case failed", "classified", r.cfg.ErrorBackoff)
	case ActionRecover:
		r.fail(ctx, err, "Fetching next case raised an error", "transport", r.cfg.ExceptionBackoff)
	}
	return action, nil
}

func (r *Runner) resolve(ctx context.Context, caseID string) {
	d, err := r.resolver.Resolve(ctx, caseID)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(StateCancelled, "cancelled")
			return
		}
		r.spend(ctx, err, fmt.Sprintf("Resolving case %s failed", caseID), "resolution")
		return
	}

	r.mu.Lock()
	if d.Source == domain.SourceOpinion {
		r.opinionVotes++
	} else {
		r.fallbackVotes++
	}
	r.mu.Unlock()
	metrics.VotesSubmitted.WithLabelValues(string(d.Source), string(d.Reason)).Inc()

	attrs := []slog.Attr{
		slog.String("case", caseID),
		slog.String("vote", d.Label),
		slog.String("source", string(d.Source)),
	}
	if d.Author != "" {
		attrs = append(attrs, slog.String("author", d.Author))
	}
	if d.Reason != policy.ReasonNone {
		attrs = append(attrs, slog.String("reason", string(d.Reason)))
	}
	r.emit(ctx, Event{Level: slog.LevelInfo, Message: "Vote submitted", Attrs: attrs})

	if r.recorder == nil {
		return
	}
	rec := &domain.VoteRecord{
		RunID:     r.id,
		CaseID:    caseID,
		Vote:      d.Vote,
		Label:     d.Label,
		Source:    d.Source,
		Author:    d.Author,
		Insiders:  d.Insiders,
		Anonymous: d.Anonymous,
		VotedAt:   time.Now(),
	}
	if err := r.recorder.RecordVote(ctx, rec); err != nil {
		r.emit(ctx, Event{Level: slog.LevelWarn, Message: "Failed to record vote", Cause: err})
	}
}

func (r *Runner) waitForCases(ctx context.Context, cause error) {
	r.emit(ctx, Event{Level: slog.LevelInfo, Message: "No new case available", Cause: cause})

	r.mu.Lock()
	if r.repeats.Exhausted() {
		r.mu.Unlock()
		r.finish(StateTerminatedSuccess, "no new case")
		return
	}
	r.repeats.Take()
	r.mu.Unlock()

	r.transition(StateWaiting)
	r.emit(ctx, Event{Level: slog.LevelInfo, Message: "Waiting before fetching cases again", Attrs: []slog.Attr{
		slog.Duration("wait", r.cfg.WaitTime),
		slog.Int("repeats_left", r.repeats.Left()),
	}})
	if err := r.sleeper.Sleep(ctx, r.cfg.WaitTime); err != nil {
		r.finish(StateCancelled, "cancelled")
		return
	}
	r.transition(StateRunning)
}

func (r *Runner) reapply(ctx context.Context, cause error) {
	r.emit(ctx, Event{Level: slog.LevelWarn, Message: "Juror eligibility expired, applying again", Cause: cause})

	if err := r.svc.ApplyEligibility(ctx); err != nil {
		r.emit(ctx, Event{Level: slog.LevelWarn, Message: "Eligibility application failed", Cause: err})
	} else {
		r.emit(ctx, Event{Level: slog.LevelInfo, Message: "Eligibility application submitted"})
	}
	r.finish(StateTerminatedIneligible, "eligibility expired")
}

// fail spends budget for a failed fetch and backs off unless the run is over.
func (r *Runner) fail(ctx context.Context, err error, msg, kind string, backoff delay.Window) {
	if !r.spend(ctx, err, msg, kind) {
		return
	}
	if err := r.sleeper.Sleep(ctx, backoff.Pick(r.rng)); err != nil {
		r.finish(StateCancelled, "cancelled")
	}
}

// spend decrements the error budget and reports whether the run continues.
func (r *Runner) spend(ctx context.Context, err error, msg, kind string) bool {
	r.mu.Lock()
	remaining := r.budget.Spend()
	r.lastErr = err
	r.mu.Unlock()

	metrics.BudgetSpent.WithLabelValues(kind).Inc()
	metrics.BudgetRemaining.WithLabelValues(r.account).Set(float64(remaining))
	r.emit(ctx, Event{Level: slog.LevelWarn, Message: msg, Cause: err, Attrs: []slog.Attr{
		slog.Int("budget_remaining", remaining),
	}})

	if r.budget.Exhausted() {
		r.finish(StateTerminatedExhausted, "error budget exhausted")
		return false
	}
	return true
}

func (r *Runner) transition(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !CanTransition(r.state, to) {
		r.log.Warn("Ignoring invalid state transition", "run", r.id, "from", r.state, "to", to)
		return
	}
	r.state = to
}

func (r *Runner) finish(to State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	r.state = to
	r.reason = reason
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status returns a snapshot of the run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		RunID:           r.id,
		Account:         r.account,
		State:           r.state,
		Iterations:      r.iterations,
		OpinionVotes:    r.opinionVotes,
		FallbackVotes:   r.fallbackVotes,
		BudgetRemaining: r.budget.Remaining(),
		RepeatsLeft:     r.repeats.Left(),
		StartedAt:       r.startedAt,
	}
}

// Result builds the run result from the current state.
func (r *Runner) Result() domain.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := domain.RunResult{
		RunID:           r.id,
		Account:         r.account,
		State:           string(r.state),
		Reason:          r.reason,
		Iterations:      r.iterations,
		OpinionVotes:    r.opinionVotes,
		FallbackVotes:   r.fallbackVotes,
		BudgetRemaining: r.budget.Remaining(),
		StartedAt:       r.startedAt,
		FinishedAt:      time.Now(),
	}

	switch r.state {
	case StateTerminatedSuccess:
		res.Outcome = domain.OutcomeSuccess
		if r.fallbackVotes > 0 {
			res.Outcome = domain.OutcomePartial
		}
	case StateTerminatedExhausted:
		res.Outcome = domain.OutcomeFailure
		res.Err = domain.NewBudgetExhaustedError(r.lastErr)
	default:
		res.Outcome = domain.OutcomeTerminated
	}
	return res
}
