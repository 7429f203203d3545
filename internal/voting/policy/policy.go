// Package policy decides which option to submit for a case and submits it.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"github.com/vietddude/juror/internal/core/delay"
	"github.com/vietddude/juror/internal/core/domain"
	"github.com/vietddude/juror/internal/voting/opinion"
)

// CaseService is the part of the remote case service the policy needs.
type CaseService interface {
	CaseDetail(ctx context.Context, caseID string) (*domain.Case, error)
	Opinions(ctx context.Context, caseID string) ([]domain.Opinion, error)
	Vote(ctx context.Context, ballot domain.Ballot) error
}

// Config is the decision part of the jury configuration.
type Config struct {
	UseOpinion    bool
	OpinionMin    float64
	InsiderWeight float64
	// Fallback holds positions into the case's option list, sampled uniformly.
	Fallback []int
	// Excluded holds option positions an opinion must not resolve to.
	Excluded     []int
	Insiders     []int
	Anonymous    []int
	ConfirmDelay delay.Window
}

// FallbackReason explains why the configured fallback was used.
type FallbackReason string

const (
	ReasonNone          FallbackReason = ""
	ReasonDisabled      FallbackReason = "disabled"
	ReasonNoOpinions    FallbackReason = "no_opinions"
	ReasonLowConfidence FallbackReason = "low_confidence"
	ReasonExcluded      FallbackReason = "excluded"
)

// Decision is a submitted vote and how it was reached.
type Decision struct {
	CaseID    string
	Vote      int
	Label     string
	Source    domain.DecisionSource
	Reason    FallbackReason
	Author    string
	Insiders  int
	Anonymous int
	Tallies   []opinion.Tally
}

// Policy chooses and submits resolutions. It is not safe for concurrent use.
type Policy struct {
	cfg       Config
	svc       CaseService
	sleeper   delay.Sleeper
	rng       *rand.Rand
	log       *slog.Logger
	aggregate func(string, []domain.Opinion, opinion.Params) opinion.Verdict
}

// New creates a policy. rng must not be shared with other goroutines.
func New(cfg Config, svc CaseService, sleeper delay.Sleeper, rng *rand.Rand, log *slog.Logger) *Policy {
	if log == nil {
		log = slog.Default()
	}
	return &Policy{
		cfg:       cfg,
		svc:       svc,
		sleeper:   sleeper,
		rng:       rng,
		log:       log,
		aggregate: opinion.Aggregate,
	}
}

// Resolve decides on a vote for the case and submits it, preceded by a
// confirmation and a review delay.
func (p *Policy) Resolve(ctx context.Context, caseID string) (Decision, error) {
	if !p.cfg.UseOpinion {
		return p.fallback(ctx, caseID, ReasonDisabled, nil)
	}

	opinions, err := p.svc.Opinions(ctx, caseID)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch opinions for case %s: %w", caseID, err)
	}
	if len(opinions) == 0 {
		return p.fallback(ctx, caseID, ReasonNoOpinions, nil)
	}

	verdict := p.aggregate(caseID, opinions, opinion.Params{
		MinWeight:     p.cfg.OpinionMin,
		InsiderWeight: p.cfg.InsiderWeight,
	})
	p.log.Debug("Opinion distribution", "case", caseID, "tallies", verdict.Tallies, "top", verdict.Weight)

	if !verdict.Confident() {
		return p.fallback(ctx, caseID, ReasonLowConfidence, verdict.Tallies)
	}

	winner := verdict.Winner
	if slices.Contains(p.cfg.Excluded, domain.VoteToOption(winner.Vote)) {
		p.log.Debug("Opinion vote excluded by config, using fallback",
			"case", caseID, "vote", domain.VoteName(winner.Vote))
		return p.fallback(ctx, caseID, ReasonExcluded, verdict.Tallies)
	}

	d := Decision{
		CaseID:  caseID,
		Vote:    winner.Vote,
		Label:   domain.VoteName(winner.Vote),
		Source:  domain.SourceOpinion,
		Author:  winner.Author,
		Tallies: verdict.Tallies,
	}
	p.log.Debug("Selected vote from opinions", "case", caseID, "vote", d.Label, "raw", d.Vote)
	return p.submit(ctx, d)
}

func (p *Policy) fallback(
	ctx context.Context,
	caseID string,
	reason FallbackReason,
	tallies []opinion.Tally,
) (Decision, error) {
	if len(p.cfg.Fallback) == 0 {
		return Decision{}, fmt.Errorf("case %s: no fallback votes configured", caseID)
	}
	position := pick(p.rng, p.cfg.Fallback)

	c, err := p.svc.CaseDetail(ctx, caseID)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch case %s: %w", caseID, err)
	}
	opt, err := c.Option(position)
	if err != nil {
		return Decision{}, fmt.Errorf("case %s fallback position %d: %w", caseID, position, err)
	}

	return p.submit(ctx, Decision{
		CaseID:  caseID,
		Vote:    opt.Vote,
		Label:   opt.Label,
		Source:  domain.SourceFallback,
		Reason:  reason,
		Tallies: tallies,
	})
}

func (p *Policy) submit(ctx context.Context, d Decision) (Decision, error) {
	if err := p.confirm(ctx, d.CaseID); err != nil {
		return Decision{}, err
	}

	ballot := p.ballot(d.CaseID, d.Vote)
	d.Insiders, d.Anonymous = ballot.Insiders, ballot.Anonymous
	if err := p.svc.Vote(ctx, ballot); err != nil {
		return Decision{}, fmt.Errorf("vote %s on case %s: %w", d.Label, d.CaseID, err)
	}
	return d, nil
}

// confirm acknowledges the case and waits like a human reviewer would.
func (p *Policy) confirm(ctx context.Context, caseID string) error {
	p.log.Debug("Confirming case", "case", caseID)
	if err := p.svc.Vote(ctx, p.ballot(caseID, domain.VoteConfirm)); err != nil {
		return fmt.Errorf("confirm case %s: %w", caseID, err)
	}
	if err := p.sleeper.Sleep(ctx, p.cfg.ConfirmDelay.Pick(p.rng)); err != nil {
		return fmt.Errorf("review delay for case %s: %w", caseID, err)
	}
	return nil
}

func (p *Policy) ballot(caseID string, vote int) domain.Ballot {
	return domain.Ballot{
		CaseID:    caseID,
		Vote:      vote,
		Insiders:  pick(p.rng, p.cfg.Insiders),
		Anonymous: pick(p.rng, p.cfg.Anonymous),
	}
}

// pick returns a uniformly chosen element, or 0 for an empty pool.
func pick(r *rand.Rand, pool []int) int {
	if len(pool) == 0 {
		return 0
	}
	return pool[r.IntN(len(pool))]
}
