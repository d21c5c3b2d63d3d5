package proposal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the proposal does not exist.
	ErrNotFound = errors.New("proposal: not found")
	// ErrDuplicate signals the worker already has a live proposal on the job.
	ErrDuplicate = errors.New("proposal: worker already has a live proposal for this job")
	// ErrAlreadyResolved signals the proposal is no longer in submitted state.
	ErrAlreadyResolved = errors.New("proposal: already approved or declined")
	// ErrJobAssigned signals the job already carries an approved proposal.
	ErrJobAssigned = errors.New("proposal: job already has an approved proposal")
)

// Repository handles data access for proposals.
type Repository interface {
	Create(ctx context.Context, p Proposal) (Proposal, error)
	GetByID(ctx context.Context, id string) (Proposal, error)
	ListByJob(ctx context.Context, jobID string) ([]Proposal, error)
	ListByWorker(ctx context.Context, workerID string) ([]Proposal, error)
	MarkApproved(ctx context.Context, id string) error
	MarkDeclined(ctx context.Context, id string) error
}

const proposalColumns = `id, job_id, buyer_id, worker_id, worker_name, price_cents, message, completion_date, status, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed proposal repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new proposal in submitted state. The partial unique index
// on (job_id, worker_id) rejects a second live proposal from the same worker.
func (r *PGRepository) Create(ctx context.Context, p Proposal) (Proposal, error) {
	const insertSQL = `
		INSERT INTO proposals (id, job_id, buyer_id, worker_id, worker_name, price_cents, message, completion_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + proposalColumns

	created, err := scanProposal(r.pool.QueryRow(ctx, insertSQL,
		p.ID, p.JobID, p.BuyerID, p.WorkerID, p.WorkerName,
		p.PriceCents, p.Message, p.CompletionDate, p.Status,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Proposal{}, ErrDuplicate
		}
		return Proposal{}, fmt.Errorf("proposal: create: %w", err)
	}

	return created, nil
}

// GetByID retrieves a proposal by ID.
func (r *PGRepository) GetByID(ctx context.Context, id string) (Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx, `
		SELECT `+proposalColumns+` FROM proposals WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("proposal: get by id: %w", err)
	}
	return p, nil
}

// ListByJob returns all proposals on a job, newest first.
func (r *PGRepository) ListByJob(ctx context.Context, jobID string) ([]Proposal, error) {
	return r.list(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
}

// ListByWorker returns all proposals submitted by a worker, newest first.
func (r *PGRepository) ListByWorker(ctx context.Context, workerID string) ([]Proposal, error) {
	return r.list(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE worker_id = $1 ORDER BY created_at DESC`, workerID)
}

func (r *PGRepository) list(ctx context.Context, query string, arg any) ([]Proposal, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("proposal: list: %w", err)
	}
	defer rows.Close()

	var out []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("proposal: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkApproved moves a submitted proposal to approved. The guard on the
// current status makes the approval optimistic; the partial unique index on
// (job_id) WHERE approved rejects a second winner.
func (r *PGRepository) MarkApproved(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE proposals SET status = 'approved', updated_at = now()
		WHERE id = $1 AND status = 'submitted'
	`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrJobAssigned
		}
		return fmt.Errorf("proposal: mark approved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveZeroRows(ctx, id)
	}
	return nil
}

// MarkDeclined moves a submitted proposal to declined.
func (r *PGRepository) MarkDeclined(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE proposals SET status = 'declined', updated_at = now()
		WHERE id = $1 AND status = 'submitted'
	`, id)
	if err != nil {
		return fmt.Errorf("proposal: mark declined: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.resolveZeroRows(ctx, id)
	}
	return nil
}

// resolveZeroRows disambiguates a guarded update that matched nothing: either
// the proposal is missing or it already left submitted state.
func (r *PGRepository) resolveZeroRows(ctx context.Context, id string) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status FROM proposals WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("proposal: resolve status: %w", err)
	}
	return ErrAlreadyResolved
}

func scanProposal(row pgx.Row) (Proposal, error) {
	var p Proposal
	err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.BuyerID,
		&p.WorkerID,
		&p.WorkerName,
		&p.PriceCents,
		&p.Message,
		&p.CompletionDate,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	return p, nil
}
