package jury

import (
	"encoding/json"

	"github.com/vietddude/juror/internal/core/domain"
)

// envelope is the common response wrapper of the service.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type nextCaseData struct {
	CaseID string `json:"case_id"`
}

type caseInfoData struct {
	CaseID    string              `json:"case_id"`
	CaseType  int                 `json:"case_type"`
	Title     string              `json:"title"`
	VoteItems []domain.VoteOption `json:"vote_items"`
}

type opinionItem struct {
	Vote     int    `json:"vote"`
	VoteText string `json:"vote_text"`
	Uname    string `json:"uname"`
	Content  string `json:"content"`
	Insiders int    `json:"insiders"`
}

type opinionData struct {
	Total int           `json:"total"`
	List  []opinionItem `json:"list"`
}

// JurorInfo is the account's juror status.
type JurorInfo struct {
	Name      string `json:"uname"`
	CaseTotal int    `json:"case_total"`
	TermEnd   int64  `json:"term_end"`
	Status    int    `json:"status"`
}

func (o opinionItem) toDomain() domain.Opinion {
	return domain.Opinion{
		Vote:     o.Vote,
		VoteText: o.VoteText,
		Insiders: o.Insiders != 0,
		Author:   o.Uname,
		Content:  o.Content,
	}
}
