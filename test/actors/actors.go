package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Proposer hammers the contested job with competing proposals from a pool of
// workers. Duplicate live proposals from the same worker must bounce off the
// partial unique index.
func Proposer(ctx context.Context, pool *pgxpool.Pool, jobID, buyerID string, workerIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		workerID := workerIDs[rand.Intn(len(workerIDs))]
		_, err := pool.Exec(ctx, `
			INSERT INTO proposals (job_id, buyer_id, worker_id, price_cents, completion_date)
			SELECT $1, $2, $3, 5000, now() + interval '7 days'
			WHERE EXISTS (SELECT 1 FROM job_listings WHERE id = $1 AND status = 'Open')
		`, jobID, buyerID, workerID)
		if err != nil && !isUniqueViolation(err) {
			return fmt.Errorf("proposer insert: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Approver plays the poster: it repeatedly tries to approve a submitted
// proposal using the same guarded transition + escrow write the service
// performs. Only one approval can ever land while the job is Open.
func Approver(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var propID string
		err = tx.QueryRow(ctx, `
			SELECT id FROM proposals WHERE job_id = $1 AND status = 'submitted' LIMIT 1 FOR UPDATE SKIP LOCKED
		`, jobID).Scan(&propID)
		if err == nil {
			tag, execErr := tx.Exec(ctx, `
				UPDATE job_listings SET status = 'In Progress', updated_at = now()
				WHERE id = $1 AND status = 'Open'
			`, jobID)
			if execErr == nil && tag.RowsAffected() == 1 {
				_, execErr = tx.Exec(ctx, `
					UPDATE job_listings
					SET payment_intent_id = 'pi_' || $1, escrow_amount_cents = 5000,
					    escrow_currency = 'usd', payment_status = 'authorized'
					WHERE id = $2
				`, propID, jobID)
				if execErr == nil {
					_, execErr = tx.Exec(ctx, `
						UPDATE proposals SET status = 'approved', updated_at = now()
						WHERE id = $1 AND status = 'submitted'
					`, propID)
				}
				if execErr == nil {
					_ = tx.Commit(ctx)
					tx = nil
				}
			}
		}
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Finisher plays the approved worker: once the job is In Progress it submits
// a completion, flipping the job to Pending and opening the voting round.
func Finisher(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		var workerID string
		err = tx.QueryRow(ctx, `
			SELECT worker_id FROM proposals WHERE job_id = $1 AND status = 'approved'
		`, jobID).Scan(&workerID)
		if err == nil {
			tag, execErr := tx.Exec(ctx, `
				UPDATE job_listings SET status = 'Pending', updated_at = now()
				WHERE id = $1 AND status = 'In Progress'
			`, jobID)
			if execErr == nil && tag.RowsAffected() == 1 {
				_, execErr = tx.Exec(ctx, `
					INSERT INTO verification (job_id, worker_id, description)
					VALUES ($1, $2, 'stress completion')
				`, jobID, workerID)
				if execErr == nil {
					_ = tx.Commit(ctx)
					tx = nil
				}
			}
		}
		if tx != nil {
			_ = tx.Rollback(ctx)
		}
		time.Sleep(time.Duration(30+rand.Intn(40)) * time.Millisecond)
	}
}

// Voter casts and recasts votes on the pending job, then recomputes the
// quorum the way the service does: upsert, tally, and a guarded terminal
// transition. Exactly one voter can win the Pending → terminal race; the
// winner also settles the escrow with a guarded payment-state flip.
func Voter(ctx context.Context, pool *pgxpool.Pool, jobID, voterID string, threshold int, stop <-chan struct{}) error {
	votes := []string{"approve", "approve", "approve", "deny"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		vote := votes[rand.Intn(len(votes))]
		_, err := pool.Exec(ctx, `
			INSERT INTO verification_votes (job_id, voter_id, vote)
			SELECT $1, $2, $3
			WHERE EXISTS (SELECT 1 FROM job_listings WHERE id = $1 AND status = 'Pending')
			ON CONFLICT (job_id, voter_id) DO UPDATE SET vote = EXCLUDED.vote
		`, jobID, voterID, vote)
		if err != nil {
			return fmt.Errorf("voter upsert: %w", err)
		}

		var approve, deny int
		err = pool.QueryRow(ctx, `
			SELECT
				count(*) FILTER (WHERE vote = 'approve'),
				count(*) FILTER (WHERE vote = 'deny')
			FROM verification_votes WHERE job_id = $1
		`, jobID).Scan(&approve, &deny)
		if err != nil {
			return fmt.Errorf("voter tally: %w", err)
		}

		terminal := ""
		settled := ""
		switch {
		case approve >= threshold:
			terminal, settled = "Completed", "captured"
		case deny >= threshold:
			terminal, settled = "Rejected", "refunded"
		}
		if terminal != "" {
			tag, err := pool.Exec(ctx, `
				UPDATE job_listings SET status = $2, updated_at = now()
				WHERE id = $1 AND status = 'Pending'
			`, jobID, terminal)
			if err != nil {
				return fmt.Errorf("voter terminal transition: %w", err)
			}
			if tag.RowsAffected() == 1 {
				// quorum winner settles; the guard makes this at-most-once
				_, _ = pool.Exec(ctx, `
					UPDATE verification SET status = 'resolved'
					WHERE job_id = $1 AND status = 'pending'
				`, jobID)
				if _, err := pool.Exec(ctx, `
					UPDATE job_listings SET payment_status = $2
					WHERE id = $1 AND payment_status = 'authorized'
				`, jobID, settled); err != nil {
					return fmt.Errorf("voter settle: %w", err)
				}
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Reconciler mimics the settlement sweep: terminal jobs whose escrow is still
// authorized get their capture or refund replayed. The payment-state guard
// keeps this idempotent against the voting winner.
func Reconciler(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			UPDATE job_listings
			SET payment_status = CASE status WHEN 'Completed' THEN 'captured' ELSE 'refunded' END
			WHERE status IN ('Completed', 'Rejected') AND payment_status = 'authorized'
		`)
		if err != nil {
			return fmt.Errorf("reconciler sweep: %w", err)
		}
		time.Sleep(150 * time.Millisecond)
	}
}

// Poster keeps the marketplace noisy: it creates fresh unrelated listings so
// the contested job is not the only row in play.
func Poster(ctx context.Context, pool *pgxpool.Pool, posterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO job_listings (title, description, address, latitude, longitude, posted_by_user_id)
			VALUES ('Noise job ' || gen_random_uuid(), 'stress filler', '1 Test St', 43.6, -79.4, $1)
		`, posterID)
		if err != nil {
			return fmt.Errorf("poster insert: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
