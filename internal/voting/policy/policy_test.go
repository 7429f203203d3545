package policy

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/voting/opinion"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeService struct {
	cases       map[string]*domain.Case
	opinions    map[string][]domain.Opinion
	opinionErr  error
	confirmErr  error
	voteErr     error
	ballots     []domain.Ballot
	opinionCall int
	detailCall  int
}

func (f *fakeService) CaseDetail(ctx context.Context, caseID string) (*domain.Case, error) {
	f.detailCall++
	c, ok := f.cases[caseID]
	if !ok {
		return nil, domain.NewClassifiedError("case/info", 25001, "case not found")
	}
	return c, nil
}

func (f *fakeService) Opinions(ctx context.Context, caseID string) ([]domain.Opinion, error) {
	f.opinionCall++
	if f.opinionErr != nil {
		return nil, f.opinionErr
	}
	return f.opinions[caseID], nil
}

func (f *fakeService) Vote(ctx context.Context, b domain.Ballot) error {
	f.ballots = append(f.ballots, b)
	if b.IsConfirmation() {
		return f.confirmErr
	}
	return f.voteErr
}

func (f *fakeService) votes() []int {
	var out []int
	for _, b := range f.ballots {
		out = append(out, b.Vote)
	}
	return out
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func testCase() *domain.Case {
	return &domain.Case{
		ID: "123",
		Options: []domain.VoteOption{
			{Vote: 0, Label: "good"},
			{Vote: 1, Label: "bad"},
			{Vote: 2, Label: "unclear"},
		},
	}
}

func baseConfig() Config {
	return Config{
		UseOpinion:    true,
		OpinionMin:    1.5,
		InsiderWeight: 0.8,
		Fallback:      []int{0, 0, 1},
		Excluded:      []int{3},
		Insiders:      []int{0, 1},
		Anonymous:     []int{0, 1},
		ConfirmDelay:  delay.Window{Min: 12222 * time.Millisecond, Max: 17777 * time.Millisecond},
	}
}

func newTestPolicy(cfg Config, svc *fakeService, sl *recordingSleeper) *Policy {
	return New(cfg, svc, sl, rand.New(rand.NewPCG(7, 11)), nil)
}

// =============================================================================
// Tests
// =============================================================================

func TestResolve_OpinionScenario(t *testing.T) {
	svc := &fakeService{
		cases: map[string]*domain.Case{"123": testCase()},
		opinions: map[string][]domain.Opinion{"123": {
			{Vote: 1, Insiders: true, Author: "alice"},
			{Vote: 1, Insiders: false, Author: "bob"},
			{Vote: 2, Insiders: false, Author: "carol"},
		}},
	}
	sl := &recordingSleeper{}
	p := newTestPolicy(baseConfig(), svc, sl)

	d, err := p.Resolve(context.Background(), "123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if d.Vote != 1 || d.Source != domain.SourceOpinion || d.Author != "alice" {
		t.Errorf("Decision = %+v, want vote 1 from alice's opinion", d)
	}
	if got := svc.votes(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("submitted votes = %v, want [0 1]", got)
	}
	if svc.detailCall != 0 {
		t.Errorf("CaseDetail called %d times, want 0 on the opinion path", svc.detailCall)
	}
}

func TestResolve_DisabledUsesFallbackOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.UseOpinion = false
	svc := &fakeService{cases: map[string]*domain.Case{"123": testCase()}}
	p := newTestPolicy(cfg, svc, &recordingSleeper{})
	p.aggregate = func(string, []domain.Opinion, opinion.Params) opinion.Verdict {
		t.Fatal("aggregator must not be called when opinions are disabled")
		return opinion.Verdict{}
	}

	for i := 0; i < 20; i++ {
		svc.ballots = nil
		d, err := p.Resolve(context.Background(), "123")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if d.Source != domain.SourceFallback || d.Reason != ReasonDisabled {
			t.Errorf("Decision = %+v, want fallback/disabled", d)
		}
		// Fallback positions 0 and 1 map to option votes 0 and 1.
		if d.Vote != 0 && d.Vote != 1 {
			t.Errorf("fallback vote = %d, want one of the configured positions", d.Vote)
		}
	}
	if svc.opinionCall != 0 {
		t.Errorf("Opinions called %d times, want 0", svc.opinionCall)
	}
}

func TestResolve_FallbackReasons(t *testing.T) {
	tests := []struct {
		name     string
		opinions []domain.Opinion
		want     FallbackReason
	}{
		{"no opinions", nil, ReasonNoOpinions},
		{"low confidence", []domain.Opinion{{Vote: 1, Insiders: false}}, ReasonLowConfidence},
		{"excluded public unclear", []domain.Opinion{
			{Vote: domain.VoteUnclear, Insiders: true},
			{Vote: domain.VoteUnclear, Insiders: true},
		}, ReasonExcluded},
		{"excluded insider unclear", []domain.Opinion{
			{Vote: domain.VoteInsiderUnclear, Insiders: true},
			{Vote: domain.VoteInsiderUnclear, Insiders: true},
		}, ReasonExcluded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{
				cases:    map[string]*domain.Case{"123": testCase()},
				opinions: map[string][]domain.Opinion{"123": tt.opinions},
			}
			p := newTestPolicy(baseConfig(), svc, &recordingSleeper{})

			d, err := p.Resolve(context.Background(), "123")
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if d.Source != domain.SourceFallback {
				t.Errorf("Source = %s, want fallback", d.Source)
			}
			if d.Reason != tt.want {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.want)
			}
			if d.Vote == domain.VoteUnclear || d.Vote == domain.VoteInsiderUnclear {
				t.Errorf("excluded vote %d was submitted", d.Vote)
			}
		})
	}
}

func TestResolve_ConfirmationFailureSkipsVote(t *testing.T) {
	svc := &fakeService{
		cases:      map[string]*domain.Case{"123": testCase()},
		confirmErr: domain.NewClassifiedError("vote", 25018, "case closed"),
	}
	sl := &recordingSleeper{}
	cfg := baseConfig()
	cfg.UseOpinion = false
	p := newTestPolicy(cfg, svc, sl)

	_, err := p.Resolve(context.Background(), "123")
	if err == nil {
		t.Fatal("expected confirmation error")
	}
	if got := svc.votes(); !slices.Equal(got, []int{0}) {
		t.Errorf("submitted votes = %v, want only the confirmation", got)
	}
	if len(sl.slept) != 0 {
		t.Errorf("slept %v after failed confirmation", sl.slept)
	}
}

func TestResolve_ConfirmDelayWithinWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.UseOpinion = false
	svc := &fakeService{cases: map[string]*domain.Case{"123": testCase()}}
	sl := &recordingSleeper{}
	p := newTestPolicy(cfg, svc, sl)

	for i := 0; i < 10; i++ {
		if _, err := p.Resolve(context.Background(), "123"); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	for _, d := range sl.slept {
		if d < cfg.ConfirmDelay.Min || d > cfg.ConfirmDelay.Max {
			t.Errorf("confirm delay %v outside %v..%v", d, cfg.ConfirmDelay.Min, cfg.ConfirmDelay.Max)
		}
	}
	if len(sl.slept) != 10 {
		t.Errorf("slept %d times, want 10", len(sl.slept))
	}
}

func TestResolve_FallbackOutOfRange(t *testing.T) {
	cfg := baseConfig()
	cfg.UseOpinion = false
	cfg.Fallback = []int{5}
	svc := &fakeService{cases: map[string]*domain.Case{"123": testCase()}}
	p := newTestPolicy(cfg, svc, &recordingSleeper{})

	_, err := p.Resolve(context.Background(), "123")
	if !errors.Is(err, domain.ErrOptionOutOfRange) {
		t.Errorf("Resolve error = %v, want ErrOptionOutOfRange", err)
	}
	if len(svc.ballots) != 0 {
		t.Errorf("submitted %v, want nothing", svc.votes())
	}
}

func TestResolve_OpinionFetchError(t *testing.T) {
	svc := &fakeService{opinionErr: errors.New("connection reset")}
	p := newTestPolicy(baseConfig(), svc, &recordingSleeper{})

	if _, err := p.Resolve(context.Background(), "123"); err == nil {
		t.Fatal("expected error when opinions cannot be fetched")
	}
}

func TestResolve_SamplesFlagPools(t *testing.T) {
	cfg := baseConfig()
	cfg.UseOpinion = false
	cfg.Insiders = []int{1}
	cfg.Anonymous = []int{0}
	svc := &fakeService{cases: map[string]*domain.Case{"123": testCase()}}
	p := newTestPolicy(cfg, svc, &recordingSleeper{})

	d, err := p.Resolve(context.Background(), "123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	for _, b := range svc.ballots {
		if b.Insiders != 1 || b.Anonymous != 0 {
			t.Errorf("ballot %+v, want insiders=1 anonymous=0", b)
		}
	}
	if d.Insiders != 1 || d.Anonymous != 0 {
		t.Errorf("Decision flags = (%d, %d), want (1, 0)", d.Insiders, d.Anonymous)
	}
}

func TestResolve_CancelledDuringReview(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := baseConfig()
	cfg.UseOpinion = false
	svc := &fakeService{cases: map[string]*domain.Case{"123": testCase()}}
	p := newTestPolicy(cfg, svc, &recordingSleeper{})

	_, err := p.Resolve(ctx, "123")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve error = %v, want context.Canceled", err)
	}
	if got := svc.votes(); !slices.Equal(got, []int{0}) {
		t.Errorf("submitted votes = %v, want only the confirmation", got)
	}
}
