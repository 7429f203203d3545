package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/core/session"
	"github.com/vietddude/juror/internal/voting/policy"
)

// =============================================================================
// Fakes
// =============================================================================

type reply struct {
	caseID string
	err    error
}

type fakeService struct {
	mu         sync.Mutex
	script     []reply
	after      reply
	calls      int
	applyCalls int
	applyErr   error
}

func (f *fakeService) NextCase(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		return r.caseID, r.err
	}
	return f.after.caseID, f.after.err
}

func (f *fakeService) ApplyEligibility(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	return f.applyErr
}

type fakeResolver struct {
	decisions map[string]policy.Decision
	err       error
	resolved  []string
}

func (f *fakeResolver) Resolve(ctx context.Context, caseID string) (policy.Decision, error) {
	f.resolved = append(f.resolved, caseID)
	if f.err != nil {
		return policy.Decision{}, f.err
	}
	if d, ok := f.decisions[caseID]; ok {
		return d, nil
	}
	return policy.Decision{CaseID: caseID, Vote: 1, Label: "good", Source: domain.SourceOpinion}, nil
}

type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

type memRecorder struct {
	votes []*domain.VoteRecord
}

func (m *memRecorder) RecordVote(ctx context.Context, v *domain.VoteRecord) error {
	m.votes = append(m.votes, v)
	return nil
}

func code(c domain.ResponseCode) reply {
	return reply{err: domain.NewClassifiedError("case/next", c, c.String())}
}

func testConfig() Config {
	return Config{
		Repeat:           0,
		ErrorBudget:      3,
		WaitTime:         20 * time.Minute,
		ErrorBackoff:     delay.Window{Min: 20 * time.Second, Max: 40 * time.Second},
		ExceptionBackoff: delay.Window{Min: 5 * time.Second, Max: 10 * time.Second},
	}
}

func newTestRunner(t *testing.T, cfg Config, svc *fakeService, res *fakeResolver, sl *recordingSleeper) *Runner {
	t.Helper()
	r, err := New(session.Parse("bili_jct=csrf; DedeUserID=42"), cfg, Deps{
		RunID:    "run-1",
		Service:  svc,
		Resolver: res,
		Sleeper:  sl,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

// =============================================================================
// Tests
// =============================================================================

func TestNew_MissingCredential(t *testing.T) {
	_, err := New(session.Parse("SESSDATA=x"), testConfig(), Deps{
		Service:  &fakeService{},
		Resolver: &fakeResolver{},
	})
	if !domain.IsConfiguration(err) {
		t.Fatalf("New error = %v, want configuration error", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		caseID string
		err    error
		want   Action
	}{
		{"case present", "123", nil, ActionResolve},
		{"case absent", "", nil, ActionWait},
		{"no new case", "", code(domain.CodeNoNewCase).err, ActionWait},
		{"eligibility expired", "", code(domain.CodeEligibilityExpired).err, ActionReapply},
		{"already full", "", code(domain.CodeAlreadyFull).err, ActionComplete},
		{"not eligible", "", code(domain.CodeNotEligible).err, ActionIneligible},
		{"other code", "", code(-400).err, ActionRetry},
		{"transport", "", domain.NewTransientError("case/next", "request failed", errors.New("eof"), ""), ActionRecover},
		{"plain error", "", errors.New("boom"), ActionRecover},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.caseID, tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_EligibilityExpired(t *testing.T) {
	svc := &fakeService{script: []reply{code(domain.CodeEligibilityExpired)}, applyErr: errors.New("apply rejected")}
	sl := &recordingSleeper{}
	r := newTestRunner(t, testConfig(), svc, &fakeResolver{}, sl)

	res := r.Run(context.Background())

	if svc.applyCalls != 1 {
		t.Errorf("apply calls = %d, want 1", svc.applyCalls)
	}
	if res.State != string(StateTerminatedIneligible) {
		t.Errorf("State = %s, want %s", res.State, StateTerminatedIneligible)
	}
	if res.BudgetRemaining != 3 {
		t.Errorf("BudgetRemaining = %d, want 3", res.BudgetRemaining)
	}
	if res.Outcome != domain.OutcomeTerminated {
		t.Errorf("Outcome = %s, want terminated", res.Outcome)
	}
	if svc.calls != 1 {
		t.Errorf("NextCase calls = %d, want 1", svc.calls)
	}
}

func TestRun_TerminalSignals(t *testing.T) {
	tests := []struct {
		name    string
		reply   reply
		state   State
		outcome domain.Outcome
	}{
		{"not eligible", code(domain.CodeNotEligible), StateTerminatedIneligible, domain.OutcomeTerminated},
		{"already full", code(domain.CodeAlreadyFull), StateTerminatedSuccess, domain.OutcomeSuccess},
		{"no case, no repeats", code(domain.CodeNoNewCase), StateTerminatedSuccess, domain.OutcomeSuccess},
		{"empty case id, no repeats", reply{}, StateTerminatedSuccess, domain.OutcomeSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{script: []reply{tt.reply}}
			sl := &recordingSleeper{}
			r := newTestRunner(t, testConfig(), svc, &fakeResolver{}, sl)

			res := r.Run(context.Background())
			if res.State != string(tt.state) {
				t.Errorf("State = %s, want %s", res.State, tt.state)
			}
			if res.Outcome != tt.outcome {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.outcome)
			}
			if res.BudgetRemaining != 3 {
				t.Errorf("BudgetRemaining = %d, want 3", res.BudgetRemaining)
			}
			if len(sl.slept) != 0 {
				t.Errorf("slept %v, want no sleep", sl.slept)
			}
			if svc.applyCalls != 0 {
				t.Errorf("apply calls = %d, want 0", svc.applyCalls)
			}
		})
	}
}

func TestRun_WaitsForNewCasesUntilRepeatsRunOut(t *testing.T) {
	cfg := testConfig()
	cfg.Repeat = 2
	svc := &fakeService{after: code(domain.CodeNoNewCase)}
	sl := &recordingSleeper{}
	r := newTestRunner(t, cfg, svc, &fakeResolver{}, sl)

	res := r.Run(context.Background())

	if res.State != string(StateTerminatedSuccess) {
		t.Errorf("State = %s, want %s", res.State, StateTerminatedSuccess)
	}
	if len(sl.slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(sl.slept))
	}
	for _, d := range sl.slept {
		if d != cfg.WaitTime {
			t.Errorf("wait = %v, want %v", d, cfg.WaitTime)
		}
	}
	if svc.calls != 3 {
		t.Errorf("NextCase calls = %d, want 3", svc.calls)
	}
}

func TestRun_ClassifiedErrorsExhaustBudget(t *testing.T) {
	cfg := testConfig()
	svc := &fakeService{after: code(-101)}
	sl := &recordingSleeper{}
	r := newTestRunner(t, cfg, svc, &fakeResolver{}, sl)

	res := r.Run(context.Background())

	if res.State != string(StateTerminatedExhausted) {
		t.Errorf("State = %s, want %s", res.State, StateTerminatedExhausted)
	}
	if res.Outcome != domain.OutcomeFailure {
		t.Errorf("Outcome = %s, want failure", res.Outcome)
	}
	if !errors.Is(res.Err, domain.ErrBudgetExhausted) {
		t.Errorf("Err = %v, want ErrBudgetExhausted", res.Err)
	}
	if svc.calls != 3 {
		t.Errorf("NextCase calls = %d, want 3", svc.calls)
	}
	// No backoff after the failure that empties the budget.
	if len(sl.slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(sl.slept))
	}
	for _, d := range sl.slept {
		if d < cfg.ErrorBackoff.Min || d > cfg.ErrorBackoff.Max {
			t.Errorf("backoff %v outside %v..%v", d, cfg.ErrorBackoff.Min, cfg.ErrorBackoff.Max)
		}
	}
}

func TestStep_BudgetDecreasesByOnePerFailure(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorBudget = 5
	transport := domain.NewTransientError("case/next", "request failed", errors.New("timeout"), "")
	svc := &fakeService{script: []reply{
		code(-500),
		{err: transport},
		code(domain.CodeNoNewCase),
		code(-500),
	}}
	cfg.Repeat = 10
	sl := &recordingSleeper{}
	r := newTestRunner(t, cfg, svc, &fakeResolver{}, sl)

	want := []int{4, 3, 3, 2}
	for i, w := range want {
		if _, err := r.Step(context.Background()); err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if got := r.Status().BudgetRemaining; got != w {
			t.Errorf("after step %d budget = %d, want %d", i, got, w)
		}
	}

	if d := sl.slept[1]; d < cfg.ExceptionBackoff.Min || d > cfg.ExceptionBackoff.Max {
		t.Errorf("exception backoff %v outside %v..%v", d, cfg.ExceptionBackoff.Min, cfg.ExceptionBackoff.Max)
	}
}

func TestRun_ResolvesCases(t *testing.T) {
	svc := &fakeService{
		script: []reply{{caseID: "a"}, {caseID: "b"}, code(domain.CodeAlreadyFull)},
	}
	res := &fakeResolver{decisions: map[string]policy.Decision{
		"b": {CaseID: "b", Vote: 0, Label: "good", Source: domain.SourceFallback, Reason: policy.ReasonNoOpinions},
	}}
	rec := &memRecorder{}
	r, err := New(session.Parse("bili_jct=csrf"), testConfig(), Deps{
		RunID:    "run-2",
		Service:  svc,
		Resolver: res,
		Sleeper:  &recordingSleeper{},
		Recorder: rec,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	result := r.Run(context.Background())

	if result.OpinionVotes != 1 || result.FallbackVotes != 1 {
		t.Errorf("votes = (%d opinion, %d fallback), want (1, 1)", result.OpinionVotes, result.FallbackVotes)
	}
	if result.Outcome != domain.OutcomePartial {
		t.Errorf("Outcome = %s, want partial", result.Outcome)
	}
	if len(rec.votes) != 2 || rec.votes[0].CaseID != "a" || rec.votes[1].RunID != "run-2" {
		t.Errorf("recorded votes = %+v", rec.votes)
	}
}

func TestRun_ResolutionFailureSpendsBudgetWithoutBackoff(t *testing.T) {
	svc := &fakeService{after: reply{caseID: "a"}}
	sl := &recordingSleeper{}
	r := newTestRunner(t, testConfig(), svc, &fakeResolver{err: errors.New("vote rejected")}, sl)

	res := r.Run(context.Background())

	if res.State != string(StateTerminatedExhausted) {
		t.Errorf("State = %s, want %s", res.State, StateTerminatedExhausted)
	}
	if res.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", res.Iterations)
	}
	if len(sl.slept) != 0 {
		t.Errorf("slept %v, want none", sl.slept)
	}
}

func TestRun_BoundedConfigsTerminate(t *testing.T) {
	replies := []reply{
		code(domain.CodeNoNewCase),
		code(-1),
		{err: errors.New("parse error")},
		{caseID: ""},
	}

	for repeat := 0; repeat <= 4; repeat++ {
		for budget := 1; budget <= 4; budget++ {
			for _, after := range replies {
				cfg := testConfig()
				cfg.Repeat = repeat
				cfg.ErrorBudget = budget
				svc := &fakeService{after: after}
				r := newTestRunner(t, cfg, svc, &fakeResolver{}, &recordingSleeper{})

				res := r.Run(context.Background())
				if bound := repeat + budget + 1; res.Iterations > bound {
					t.Errorf("repeat=%d budget=%d: %d iterations, want <= %d",
						repeat, budget, res.Iterations, bound)
				}
				if !State(res.State).Terminal() {
					t.Errorf("run ended in non-terminal state %s", res.State)
				}
			}
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &fakeService{after: reply{caseID: "a"}}
	r := newTestRunner(t, testConfig(), svc, &fakeResolver{}, &recordingSleeper{})

	res := r.Run(ctx)
	if res.State != string(StateCancelled) {
		t.Errorf("State = %s, want %s", res.State, StateCancelled)
	}
	if svc.calls != 0 {
		t.Errorf("NextCase calls = %d, want 0 after cancellation", svc.calls)
	}
	if res.Outcome != domain.OutcomeTerminated {
		t.Errorf("Outcome = %s, want terminated", res.Outcome)
	}
}

func TestStep_AfterFinish(t *testing.T) {
	svc := &fakeService{script: []reply{code(domain.CodeAlreadyFull)}}
	r := newTestRunner(t, testConfig(), svc, &fakeResolver{}, &recordingSleeper{})

	action, err := r.Step(context.Background())
	if err != nil || action != ActionComplete {
		t.Fatalf("Step() = (%v, %v), want (complete, nil)", action, err)
	}
	if _, err := r.Step(context.Background()); !errors.Is(err, ErrFinished) {
		t.Errorf("Step() after finish error = %v, want ErrFinished", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateRunning, StateWaiting, true},
		{StateWaiting, StateRunning, true},
		{StateWaiting, StateTerminatedSuccess, false},
		{StateTerminatedSuccess, StateRunning, false},
		{StateCancelled, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func sessionForTest() *session.Session {
	return session.Parse("bili_jct=csrf; DedeUserID=42")
}
