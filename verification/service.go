package verification

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
	// ErrJobNotInProgress signals a completion submission on a job that is
	// not being worked.
	ErrJobNotInProgress = errors.New("verification: job is not in progress")
	// ErrNotWorker signals the caller is not the approved worker on the job.
	ErrNotWorker = errors.New("verification: only the approved worker may submit completion")
	// ErrVotingClosed signals a vote on a job that is no longer pending.
	ErrVotingClosed = errors.New("verification: voting is closed for this job")
	// ErrIneligibleVoter signals the poster or the worker tried to vote.
	ErrIneligibleVoter = errors.New("verification: job participants may not vote")
	// ErrInvalidVote signals an unknown vote value.
	ErrInvalidVote = errors.New("verification: vote must be approve or deny")
	// ErrMissingEvidence signals a completion submission without a description.
	ErrMissingEvidence = errors.New("verification: a completion description is required")
)

// Jobs is the slice of the job lifecycle the verification flow drives.
// Satisfied by *job.Service.
type Jobs interface {
	GetByID(ctx context.Context, id string) (job.Listing, error)
	MarkPendingVerification(ctx context.Context, id string) error
	MarkTerminal(ctx context.Context, id string, outcome job.Status) error
	SettleEscrow(ctx context.Context, id string, state job.PaymentState) error
}

// Service owns the verification round: the worker's completion submission,
// peer voting, and the quorum decision that settles the escrow.
type Service struct {
	repo      Repository
	jobs      Jobs
	gateway   payments.Gateway
	threshold int
	idGen     func() string
	now       func() time.Time
}

// SubmitParams carries the worker's completion claim.
type SubmitParams struct {
	JobID       string
	WorkerID    string
	Description string
	ImageURL    string
}

// VoteParams carries one peer's verdict.
type VoteParams struct {
	JobID   string
	VoterID string
	Vote    VoteValue
	Comment *string
}

// VoteResult reports the tally and decision after a vote lands.
type VoteResult struct {
	Counts  VoteCounts
	Outcome Outcome
}

func NewService(repo Repository, jobs Jobs, gateway payments.Gateway, threshold int) *Service {
	if threshold < 1 {
		threshold = 1
	}
	return &Service{
		repo:      repo,
		jobs:      jobs,
		gateway:   gateway,
		threshold: threshold,
		idGen:     func() string { return uuid.NewString() },
		now:       time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// SubmitCompletion opens a verification round: the job moves In Progress →
// Pending and the submission becomes visible to voters. The status guard
// serializes concurrent submissions; the pending-round unique index backs it
// up.
func (s *Service) SubmitCompletion(ctx context.Context, params SubmitParams) (Submission, error) {
	if strings.TrimSpace(params.Description) == "" {
		return Submission{}, ErrMissingEvidence
	}

	listing, err := s.jobs.GetByID(ctx, params.JobID)
	if err != nil {
		return Submission{}, err
	}
	if listing.Status != job.StatusInProgress {
		return Submission{}, fmt.Errorf("%w: status is %s", ErrJobNotInProgress, listing.Status)
	}

	workerID, err := s.repo.ApprovedWorker(ctx, params.JobID)
	if err != nil {
		return Submission{}, err
	}
	if workerID != params.WorkerID {
		return Submission{}, ErrNotWorker
	}

	if err := s.jobs.MarkPendingVerification(ctx, params.JobID); err != nil {
		return Submission{}, err
	}

	return s.repo.CreateSubmission(ctx, Submission{
		ID:          s.idGen(),
		JobID:       params.JobID,
		WorkerID:    params.WorkerID,
		Description: strings.TrimSpace(params.Description),
		ImageURL:    params.ImageURL,
		Status:      SubmissionPending,
	})
}

// GetPendingSubmission returns the open round for a job.
func (s *Service) GetPendingSubmission(ctx context.Context, jobID string) (Submission, error) {
	return s.repo.GetPendingSubmission(ctx, jobID)
}

// ListVotes returns the votes on a job.
func (s *Service) ListVotes(ctx context.Context, jobID string) ([]Vote, error) {
	return s.repo.ListVotes(ctx, jobID)
}

// CastVote records a peer's verdict and recomputes the quorum. When the
// tally crosses the threshold the job enters its terminal status and the
// escrow settles — capture on approval, refund on denial. The optimistic
// terminal transition picks exactly one winning vote under concurrency;
// losers see the job already resolved and do nothing.
func (s *Service) CastVote(ctx context.Context, params VoteParams) (VoteResult, error) {
	if params.Vote != VoteApprove && params.Vote != VoteDeny {
		return VoteResult{}, ErrInvalidVote
	}

	listing, err := s.jobs.GetByID(ctx, params.JobID)
	if err != nil {
		return VoteResult{}, err
	}
	if listing.Status != job.StatusPending {
		return VoteResult{}, fmt.Errorf("%w: status is %s", ErrVotingClosed, listing.Status)
	}
	if params.VoterID == listing.PostedByUserID {
		return VoteResult{}, ErrIneligibleVoter
	}
	if workerID, err := s.repo.ApprovedWorker(ctx, params.JobID); err == nil && workerID == params.VoterID {
		return VoteResult{}, ErrIneligibleVoter
	}

	err = s.repo.UpsertVote(ctx, Vote{
		ID:      s.idGen(),
		JobID:   params.JobID,
		VoterID: params.VoterID,
		Vote:    params.Vote,
		Comment: params.Comment,
	})
	if err != nil {
		return VoteResult{}, err
	}

	counts, err := s.repo.CountVotes(ctx, params.JobID)
	if err != nil {
		return VoteResult{}, err
	}

	outcome := ComputeOutcome(counts.Approve, counts.Deny, s.threshold)
	if outcome != OutcomeUndecided {
		if err := s.resolve(ctx, listing, outcome); err != nil {
			return VoteResult{}, err
		}
	}

	return VoteResult{Counts: counts, Outcome: outcome}, nil
}

// resolve moves the job to its terminal status and settles the escrow. Losing
// a terminal-transition race is not an error: some earlier vote already
// resolved the job.
func (s *Service) resolve(ctx context.Context, listing job.Listing, outcome Outcome) error {
	terminal := job.StatusCompleted
	if outcome == OutcomeRejected {
		terminal = job.StatusRejected
	}

	if err := s.jobs.MarkTerminal(ctx, listing.ID, terminal); err != nil {
		if errors.Is(err, job.ErrStaleStatus) {
			return nil
		}
		return err
	}

	if err := s.repo.ResolveSubmission(ctx, listing.ID); err != nil {
		log.Printf("verification: resolve submission for job %s: %v", listing.ID, err)
	}

	// Escrow settlement failures are logged, not returned: the job is already
	// terminal and the payment reconciler sweeps unsettled terminal jobs.
	s.settle(ctx, listing, terminal)
	return nil
}

func (s *Service) settle(ctx context.Context, listing job.Listing, terminal job.Status) {
	if listing.PaymentIntentID == nil {
		log.Printf("verification: job %s resolved %s with no escrow on file", listing.ID, terminal)
		return
	}
	intentID := *listing.PaymentIntentID

	var (
		state job.PaymentState
		err   error
	)
	if terminal == job.StatusCompleted {
		state = job.PaymentCaptured
		_, err = s.gateway.Capture(ctx, intentID)
	} else {
		state = job.PaymentRefunded
		_, err = s.gateway.Refund(ctx, intentID)
	}
	if err != nil {
		log.Printf("verification: settle escrow for job %s: %v", listing.ID, err)
		return
	}

	if err := s.jobs.SettleEscrow(ctx, listing.ID, state); err != nil {
		if !errors.Is(err, job.ErrEscrowAlreadySettled) {
			log.Printf("verification: record settlement for job %s: %v", listing.ID, err)
		}
	}
}
