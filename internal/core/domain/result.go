package domain

import "time"

// Outcome is the overall result of one workflow run.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomePartial    Outcome = "partial"
	OutcomeFailure    Outcome = "failure"
	OutcomeTerminated Outcome = "terminated"
)

// DecisionSource tells how a submitted vote was chosen.
type DecisionSource string

const (
	SourceOpinion  DecisionSource = "opinion"
	SourceFallback DecisionSource = "fallback"
)

// RunResult is produced once per workflow run.
type RunResult struct {
	RunID           string    `json:"run_id"`
	Account         string    `json:"account,omitempty"`
	Outcome         Outcome   `json:"outcome"`
	State           string    `json:"state"`
	Reason          string    `json:"reason,omitempty"`
	Iterations      int       `json:"iterations"`
	OpinionVotes    int       `json:"opinion_votes"`
	FallbackVotes   int       `json:"fallback_votes"`
	BudgetRemaining int       `json:"budget_remaining"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Err             error     `json:"-"`
}

// Votes returns the number of cases resolved in the run.
func (r RunResult) Votes() int {
	return r.OpinionVotes + r.FallbackVotes
}

// Duration returns how long the run took.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// VoteRecord is the history entry for one submitted vote.
type VoteRecord struct {
	RunID     string         `json:"run_id"     db:"run_id"`
	CaseID    string         `json:"case_id"    db:"case_id"`
	Vote      int            `json:"vote"       db:"vote"`
	Label     string         `json:"label"      db:"label"`
	Source    DecisionSource `json:"source"     db:"source"`
	Author    string         `json:"author"     db:"author"`
	Insiders  int            `json:"insiders"   db:"insiders"`
	Anonymous int            `json:"anonymous"  db:"anonymous"`
	VotedAt   time.Time      `json:"voted_at"   db:"voted_at"`
}
