package verification

// Outcome is the quorum decision derived from the current tally.
type Outcome int

const (
	OutcomeUndecided Outcome = iota
	OutcomeApproved
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "undecided"
	}
}

// ComputeOutcome maps a tally to a decision. The first side to reach the
// threshold wins; it is a pure function of the counts, so the result does not
// depend on the order votes arrived in. Approvals are checked first, which
// only matters in the degenerate case where a single recount sees both sides
// past the threshold at once.
func ComputeOutcome(approve, deny, threshold int) Outcome {
	if threshold < 1 {
		threshold = 1
	}
	if approve >= threshold {
		return OutcomeApproved
	}
	if deny >= threshold {
		return OutcomeRejected
	}
	return OutcomeUndecided
}
