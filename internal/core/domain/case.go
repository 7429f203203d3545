package domain

// VoteConfirm is the vote value that acknowledges a case before the real vote.
const VoteConfirm = 0

// Case is a pending case fetched from the remote arbitration service.
type Case struct {
	ID      string
	Options []VoteOption
}

// VoteOption is one resolution the remote service offers for a case.
type VoteOption struct {
	Vote  int    `json:"vote"`
	Label string `json:"vote_text"`
}

// Option returns the option at the given position of the case's option list.
func (c *Case) Option(position int) (VoteOption, error) {
	if len(c.Options) == 0 {
		return VoteOption{}, ErrNoOptions
	}
	if position < 0 || position >= len(c.Options) {
		return VoteOption{}, ErrOptionOutOfRange
	}
	return c.Options[position], nil
}

// Ballot is a single vote submission.
type Ballot struct {
	CaseID    string
	Vote      int
	Insiders  int
	Anonymous int
}

// IsConfirmation reports whether the ballot only acknowledges the case.
func (b Ballot) IsConfirmation() bool {
	return b.Vote == VoteConfirm
}
