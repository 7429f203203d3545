package domain

// Opinion is a peer's recommendation for a case.
type Opinion struct {
	Vote     int    `json:"vote"`
	VoteText string `json:"vote_text"`
	Insiders bool   `json:"insiders"`
	Author   string `json:"uname"`
	Content  string `json:"content"`
}

// Remote vote values as encoded by the service. Public and insider opinions
// use disjoint ranges for the same logical choices.
const (
	VoteGood    = 1
	VoteNormal  = 2
	VoteBad     = 3
	VoteUnclear = 4

	VoteInsiderGood    = 11
	VoteInsiderNormal  = 12
	VoteInsiderBad     = 13
	VoteInsiderUnclear = 14
)

var voteNames = map[int]string{
	VoteConfirm:        "confirm",
	VoteGood:           "good",
	VoteNormal:         "normal",
	VoteBad:            "bad",
	VoteUnclear:        "unclear",
	VoteInsiderGood:    "good",
	VoteInsiderNormal:  "normal",
	VoteInsiderBad:     "bad",
	VoteInsiderUnclear: "unclear",
}

// VoteName returns a readable name for a raw vote value.
func VoteName(vote int) string {
	if name, ok := voteNames[vote]; ok {
		return name
	}
	return "unknown"
}

// VoteToOption maps a raw vote value into the positional option space used by
// the fallback configuration. Values below 10 are public (1 -> 0), the rest are
// insider (11 -> 0). Only the observed four-choice domain is meaningful.
func VoteToOption(vote int) int {
	if vote < 10 {
		return vote - 1
	}
	return vote - 11
}
