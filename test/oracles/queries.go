package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against the live database while the
// actors hammer it. Each query returns rows only when the invariant is
// violated.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_approved_proposal",
			SQL: `SELECT job_id, COUNT(*) FROM proposals
                  WHERE status = 'approved'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_one_vote_per_voter",
			SQL: `SELECT job_id, voter_id, COUNT(*) FROM verification_votes
                  GROUP BY job_id, voter_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_forward_only_status",
			SQL: `SELECT job_id, old_status, new_status FROM job_status_audit
                  WHERE NOT (
                      (old_status = 'Open' AND new_status = 'In Progress') OR
                      (old_status = 'In Progress' AND new_status IN ('Pending', 'Open')) OR
                      (old_status = 'Pending' AND new_status IN ('Completed', 'Rejected'))
                  )`,
		},
		{
			Name: "O4_terminal_is_final",
			SQL: `SELECT job_id, old_status, new_status FROM job_status_audit
                  WHERE old_status IN ('Completed', 'Rejected')`,
		},
		{
			Name: "O5_settlement_exactly_once",
			SQL: `SELECT job_id, COUNT(*) FROM escrow_audit
                  WHERE old_state = 'authorized' AND new_state IN ('captured', 'refunded')
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_settlement_matches_outcome",
			SQL: `SELECT id, status, payment_status FROM job_listings
                  WHERE (status = 'Completed' AND payment_status = 'refunded')
                     OR (status = 'Rejected' AND payment_status = 'captured')`,
		},
		{
			Name: "O7_no_settlement_before_terminal",
			SQL: `SELECT e.job_id, e.new_state, j.status FROM escrow_audit e
                  JOIN job_listings j ON j.id = e.job_id
                  WHERE e.new_state IN ('captured', 'refunded')
                    AND j.status NOT IN ('Completed', 'Rejected')`,
		},
		{
			Name: "O8_one_pending_round",
			SQL: `SELECT job_id, COUNT(*) FROM verification
                  WHERE status = 'pending'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_one_live_proposal_per_worker",
			SQL: `SELECT job_id, worker_id, COUNT(*) FROM proposals
                  WHERE status <> 'declined'
                  GROUP BY job_id, worker_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
