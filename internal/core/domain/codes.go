package domain

// ResponseCode is the status code of a remote service envelope.
type ResponseCode int

const (
	CodeSuccess            ResponseCode = 0
	CodeNotEligible        ResponseCode = 25005
	CodeEligibilityExpired ResponseCode = 25006
	CodeNoNewCase          ResponseCode = 25008
	CodeAlreadyFull        ResponseCode = 25014
)

func (c ResponseCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeNotEligible:
		return "not_eligible"
	case CodeEligibilityExpired:
		return "eligibility_expired"
	case CodeNoNewCase:
		return "no_new_case"
	case CodeAlreadyFull:
		return "already_full"
	default:
		return "other"
	}
}
