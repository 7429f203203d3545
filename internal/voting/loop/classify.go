package loop

import (
	"errors"

	"github.com/vietddude/juror/internal/core/domain"
)

// Action is what the loop does with one "next case" response.
type Action int

const (
	ActionResolve Action = iota
	ActionWait
	ActionReapply
	ActionComplete
	ActionIneligible
	ActionRetry
	ActionRecover
)

func (a Action) String() string {
	switch a {
	case ActionResolve:
		return "resolve"
	case ActionWait:
		return "wait"
	case ActionReapply:
		return "reapply"
	case ActionComplete:
		return "complete"
	case ActionIneligible:
		return "ineligible"
	case ActionRetry:
		return "retry"
	case ActionRecover:
		return "recover"
	default:
		return "unknown"
	}
}

// Classify maps the result of a "next case" call to an action.
func Classify(caseID string, err error) Action {
	if err == nil {
		if caseID == "" {
			return ActionWait
		}
		return ActionResolve
	}

	var re *domain.RemoteError
	if !errors.As(err, &re) || re.Kind != domain.KindClassified {
		return ActionRecover
	}

	switch re.Code {
	case domain.CodeNoNewCase:
		return ActionWait
	case domain.CodeEligibilityExpired:
		return ActionReapply
	case domain.CodeAlreadyFull:
		return ActionComplete
	case domain.CodeNotEligible:
		return ActionIneligible
	default:
		return ActionRetry
	}
}
