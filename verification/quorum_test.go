package verification

import "testing"

func TestComputeOutcome(t *testing.T) {
	cases := []struct {
		name               string
		approve, deny, thr int
		want               Outcome
	}{
		{"no votes", 0, 0, 2, OutcomeUndecided},
		{"one approve below threshold", 1, 0, 2, OutcomeUndecided},
		{"split below threshold", 1, 1, 2, OutcomeUndecided},
		{"approvals reach threshold", 2, 0, 2, OutcomeApproved},
		{"approvals past threshold", 3, 1, 2, OutcomeApproved},
		{"denials reach threshold", 1, 2, 2, OutcomeRejected},
		{"threshold one decides instantly", 0, 1, 1, OutcomeRejected},
		{"zero threshold clamps to one", 1, 0, 0, OutcomeApproved},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ComputeOutcome(c.approve, c.deny, c.thr); got != c.want {
				t.Errorf("ComputeOutcome(%d, %d, %d) = %v, want %v", c.approve, c.deny, c.thr, got, c.want)
			}
		})
	}
}

// The decision is a function of the tally alone, so any interleaving of the
// same vote set lands on the same outcome.
func TestComputeOutcome_OrderInvariant(t *testing.T) {
	votes := []VoteValue{VoteApprove, VoteDeny, VoteApprove, VoteDeny, VoteApprove}

	tally := func(order []int) Outcome {
		var approve, deny int
		for _, i := range order {
			if votes[i] == VoteApprove {
				approve++
			} else {
				deny++
			}
		}
		return ComputeOutcome(approve, deny, 3)
	}

	want := tally([]int{0, 1, 2, 3, 4})
	orders := [][]int{
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
		{1, 3, 0, 2, 4},
	}
	for _, order := range orders {
		if got := tally(order); got != want {
			t.Errorf("order %v: outcome %v, want %v", order, got, want)
		}
	}
}
