package proposal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigflow/job"
	"gigflow/payments"
)

var (
	// ErrInvalidProposal signals a required field is missing or the price is
	// not positive.
	ErrInvalidProposal = errors.New("proposal: price must be positive")
	// ErrJobNotOpen signals the job is not accepting proposals.
	ErrJobNotOpen = errors.New("proposal: job is not open")
	// ErrOwnJob signals the poster tried to propose on their own listing.
	ErrOwnJob = errors.New("proposal: cannot propose on own job")
	// ErrNotPoster signals the caller does not own the listing.
	ErrNotPoster = errors.New("proposal: only the job poster may do this")
	// ErrEscrowDeclined wraps a terminal gateway rejection of the escrow hold.
	ErrEscrowDeclined = errors.New("proposal: escrow authorization declined")
)

// defaultCompletionWindow is applied when the worker leaves the completion
// date blank.
const defaultCompletionWindow = 7 * 24 * time.Hour

const escrowCurrency = "usd"

// Jobs is the slice of the job lifecycle the proposal flow drives. Satisfied
// by *job.Service.
type Jobs interface {
	GetByID(ctx context.Context, id string) (job.Listing, error)
	MarkInProgress(ctx context.Context, id string) error
	RevertToOpen(ctx context.Context, id string) error
	SetEscrow(ctx context.Context, id, paymentIntentID string, amountCents int64, currency string) error
	ClearEscrow(ctx context.Context, id string) error
}

// Service owns proposal submission and the approve/decline decision, including
// the escrow authorization that rides along with approval.
type Service struct {
	repo    Repository
	jobs    Jobs
	gateway payments.Gateway
	idGen   func() string
	now     func() time.Time
}

// SubmitParams carries a worker's offer.
type SubmitParams struct {
	JobID          string
	WorkerID       string
	WorkerName     string
	PriceCents     int64
	Message        string
	CompletionDate time.Time
}

// ApproveResult is returned to the poster's client after a successful
// approval. ClientSecret lets the client confirm the payment hold.
type ApproveResult struct {
	Proposal     Proposal
	ClientSecret string
}

func NewService(repo Repository, jobs Jobs, gateway payments.Gateway) *Service {
	return &Service{
		repo:    repo,
		jobs:    jobs,
		gateway: gateway,
		idGen:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit records a worker's offer on an open job. The buyer is denormalized
// from the listing so the later payment rows need no join.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Proposal, error) {
	if params.PriceCents <= 0 {
		return Proposal{}, ErrInvalidProposal
	}
	if params.WorkerID == "" {
		return Proposal{}, fmt.Errorf("proposal: missing worker id")
	}

	listing, err := s.jobs.GetByID(ctx, params.JobID)
	if err != nil {
		return Proposal{}, err
	}
	if listing.Status != job.StatusOpen {
		return Proposal{}, fmt.Errorf("%w: status is %s", ErrJobNotOpen, listing.Status)
	}
	if listing.PostedByUserID == params.WorkerID {
		return Proposal{}, ErrOwnJob
	}

	completion := params.CompletionDate
	if completion.IsZero() {
		completion = s.now().Add(defaultCompletionWindow)
	}

	return s.repo.Create(ctx, Proposal{
		ID:             s.idGen(),
		JobID:          listing.ID,
		BuyerID:        listing.PostedByUserID,
		WorkerID:       params.WorkerID,
		WorkerName:     strings.TrimSpace(params.WorkerName),
		PriceCents:     params.PriceCents,
		Message:        strings.TrimSpace(params.Message),
		CompletionDate: completion,
		Status:         StatusSubmitted,
	})
}

// Approve accepts a proposal on behalf of the job poster. The flow is:
//
//  1. move the job Open → In Progress (the optimistic guard serializes
//     concurrent approvals),
//  2. place the escrow hold at the gateway,
//  3. persist the escrow reference and flip the proposal to approved.
//
// If the hold fails the job is reverted to Open so other proposals stay
// approvable. If the hold succeeds but a later write fails, the same unwind
// runs: the escrow record is cleared, the job goes back to Open, and the
// payment intent is logged so an operator can release the provider-side
// hold. The idempotency key is derived from the job and proposal ids, so a
// retried approval reuses the provider-side hold instead of stacking a
// second one.
func (s *Service) Approve(ctx context.Context, proposalID, callerID string) (ApproveResult, error) {
	prop, err := s.repo.GetByID(ctx, proposalID)
	if err != nil {
		return ApproveResult{}, err
	}
	if prop.BuyerID != callerID {
		return ApproveResult{}, ErrNotPoster
	}
	if prop.Status != StatusSubmitted {
		return ApproveResult{}, ErrAlreadyResolved
	}

	if err := s.jobs.MarkInProgress(ctx, prop.JobID); err != nil {
		return ApproveResult{}, err
	}

	auth, err := s.gateway.Authorize(ctx, payments.AuthorizeParams{
		AmountCents:    prop.PriceCents,
		Currency:       escrowCurrency,
		JobID:          prop.JobID,
		BuyerID:        prop.BuyerID,
		SellerID:       prop.WorkerID,
		IdempotencyKey: "approve-" + prop.JobID + "-" + prop.ID,
	})
	if err != nil {
		if revertErr := s.jobs.RevertToOpen(ctx, prop.JobID); revertErr != nil {
			log.Printf("proposal: revert job %s after failed authorization: %v", prop.JobID, revertErr)
		}
		var gwErr *payments.GatewayError
		if errors.As(err, &gwErr) && !gwErr.Retryable {
			return ApproveResult{}, fmt.Errorf("%w: %v", ErrEscrowDeclined, err)
		}
		return ApproveResult{}, fmt.Errorf("proposal: authorize escrow: %w", err)
	}

	if err := s.jobs.SetEscrow(ctx, prop.JobID, auth.PaymentIntentID, prop.PriceCents, escrowCurrency); err != nil {
		s.rollbackApproval(ctx, prop.JobID, auth.PaymentIntentID)
		return ApproveResult{}, fmt.Errorf("proposal: persist escrow: %w", err)
	}
	if err := s.repo.MarkApproved(ctx, prop.ID); err != nil {
		s.rollbackApproval(ctx, prop.JobID, auth.PaymentIntentID)
		return ApproveResult{}, err
	}

	prop.Status = StatusApproved
	return ApproveResult{Proposal: prop, ClientSecret: auth.ClientSecret}, nil
}

// rollbackApproval unwinds a partially applied approval after the gateway
// hold landed: the escrow record is cleared and the job returns to Open.
// Best effort; the intent id is always logged so a hold left behind by a
// failed unwind can be released manually.
func (s *Service) rollbackApproval(ctx context.Context, jobID, paymentIntentID string) {
	if err := s.jobs.ClearEscrow(ctx, jobID); err != nil {
		log.Printf("proposal: clear escrow on job %s during rollback: %v", jobID, err)
	}
	if err := s.jobs.RevertToOpen(ctx, jobID); err != nil {
		log.Printf("proposal: revert job %s during rollback: %v", jobID, err)
	}
	log.Printf("proposal: approval rolled back on job %s, payment intent %s may still hold funds", jobID, paymentIntentID)
}

// Decline rejects a submitted proposal on behalf of the job poster.
func (s *Service) Decline(ctx context.Context, proposalID, callerID string) error {
	prop, err := s.repo.GetByID(ctx, proposalID)
	if err != nil {
		return err
	}
	if prop.BuyerID != callerID {
		return ErrNotPoster
	}
	return s.repo.MarkDeclined(ctx, prop.ID)
}

// ListByJob returns the proposals on a job. Only the poster sees the full
// list; handlers enforce that.
func (s *Service) ListByJob(ctx context.Context, jobID string) ([]Proposal, error) {
	return s.repo.ListByJob(ctx, jobID)
}

// ListByWorker returns a worker's own proposals.
func (s *Service) ListByWorker(ctx context.Context, workerID string) ([]Proposal, error) {
	return s.repo.ListByWorker(ctx, workerID)
}
