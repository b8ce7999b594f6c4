package models

// Outcome is an expected lifecycle result. Outcomes are not errors: callers
// branch on them. Store failures travel separately as errors.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeExpired          Outcome = "expired"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeOptedOut         Outcome = "opted_out"
	OutcomeNotConfirmed     Outcome = "not_confirmed"
	OutcomeDeleted          Outcome = "deleted"
)

// Result pairs an outcome with the record it concerns. Record is nil for
// OutcomeNotFound, OutcomeRateLimited and OutcomeDeleted.
type Result struct {
	Outcome Outcome
	Record  *OptInRecord
	// Scope names the rate-limit scope that denied a submission.
	Scope string
}

// OK reports whether the operation performed its transition.
func (r *Result) OK() bool {
	switch r.Outcome {
	case OutcomeCreated, OutcomeConfirmed, OutcomeOptedOut, OutcomeDeleted:
		return true
	}
	return false
}
