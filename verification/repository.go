package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrSubmissionNotFound signals no pending submission exists for the job.
	ErrSubmissionNotFound = errors.New("verification: submission not found")
	// ErrAlreadySubmitted signals the job already has a pending submission.
	ErrAlreadySubmitted = errors.New("verification: job already has a pending submission")
	// ErrNoApprovedWorker signals the job has no approved proposal.
	ErrNoApprovedWorker = errors.New("verification: job has no approved worker")
)

// Repository handles data access for completion submissions and votes.
type Repository interface {
	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	GetPendingSubmission(ctx context.Context, jobID string) (Submission, error)
	ResolveSubmission(ctx context.Context, jobID string) error
	UpsertVote(ctx context.Context, v Vote) error
	CountVotes(ctx context.Context, jobID string) (VoteCounts, error)
	ListVotes(ctx context.Context, jobID string) ([]Vote, error)
	ApprovedWorker(ctx context.Context, jobID string) (string, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed verification repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSubmission opens a verification round. The partial unique index on
// (job_id) WHERE pending rejects a second round while one is outstanding.
func (r *PGRepository) CreateSubmission(ctx context.Context, s Submission) (Submission, error) {
	const insertSQL = `
		INSERT INTO verification (id, job_id, worker_id, description, image_url, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, job_id, worker_id, description, image_url, status, created_at
	`

	created, err := scanSubmission(r.pool.QueryRow(ctx, insertSQL,
		s.ID, s.JobID, s.WorkerID, s.Description, s.ImageURL, s.Status,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Submission{}, ErrAlreadySubmitted
		}
		return Submission{}, fmt.Errorf("verification: create submission: %w", err)
	}

	return created, nil
}

// GetPendingSubmission returns the open verification round for a job.
func (r *PGRepository) GetPendingSubmission(ctx context.Context, jobID string) (Submission, error) {
	s, err := scanSubmission(r.pool.QueryRow(ctx, `
		SELECT id, job_id, worker_id, description, image_url, status, created_at
		FROM verification
		WHERE job_id = $1 AND status = 'pending'
	`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Submission{}, ErrSubmissionNotFound
		}
		return Submission{}, fmt.Errorf("verification: get pending submission: %w", err)
	}
	return s, nil
}

// ResolveSubmission closes the open round for a job.
func (r *PGRepository) ResolveSubmission(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE verification SET status = 'resolved'
		WHERE job_id = $1 AND status = 'pending'
	`, jobID)
	if err != nil {
		return fmt.Errorf("verification: resolve submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

// UpsertVote records a voter's verdict. Recasting replaces the earlier row,
// so a voter counts once no matter how many times they vote.
func (r *PGRepository) UpsertVote(ctx context.Context, v Vote) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO verification_votes (id, job_id, voter_id, vote, comment)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, voter_id)
		DO UPDATE SET vote = EXCLUDED.vote, comment = EXCLUDED.comment
	`, v.ID, v.JobID, v.VoterID, v.Vote, v.Comment)
	if err != nil {
		return fmt.Errorf("verification: upsert vote: %w", err)
	}
	return nil
}

// CountVotes tallies the current votes for a job.
func (r *PGRepository) CountVotes(ctx context.Context, jobID string) (VoteCounts, error) {
	var counts VoteCounts
	err := r.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE vote = 'approve'),
			count(*) FILTER (WHERE vote = 'deny')
		FROM verification_votes
		WHERE job_id = $1
	`, jobID).Scan(&counts.Approve, &counts.Deny)
	if err != nil {
		return VoteCounts{}, fmt.Errorf("verification: count votes: %w", err)
	}
	return counts, nil
}

// ListVotes returns the votes on a job, oldest first.
func (r *PGRepository) ListVotes(ctx context.Context, jobID string) ([]Vote, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, voter_id, vote, comment, created_at
		FROM verification_votes
		WHERE job_id = $1
		ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("verification: list votes: %w", err)
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		var v Vote
		if err := rows.Scan(&v.ID, &v.JobID, &v.VoterID, &v.Vote, &v.Comment, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("verification: scan vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ApprovedWorker returns the worker behind the job's approved proposal.
func (r *PGRepository) ApprovedWorker(ctx context.Context, jobID string) (string, error) {
	var workerID string
	err := r.pool.QueryRow(ctx, `
		SELECT worker_id FROM proposals WHERE job_id = $1 AND status = 'approved'
	`, jobID).Scan(&workerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoApprovedWorker
		}
		return "", fmt.Errorf("verification: approved worker: %w", err)
	}
	return workerID, nil
}

func scanSubmission(row pgx.Row) (Submission, error) {
	var s Submission
	err := row.Scan(
		&s.ID,
		&s.JobID,
		&s.WorkerID,
		&s.Description,
		&s.ImageURL,
		&s.Status,
		&s.CreatedAt,
	)
	if err != nil {
		return Submission{}, err
	}
	return s, nil
}
