package verification

import "time"

// SubmissionStatus values stored in the verification table.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionResolved SubmissionStatus = "resolved"
)

// Submission is the worker's claim that the job is done, with photo evidence
// for the voters.
type Submission struct {
	ID          string
	JobID       string
	WorkerID    string
	Description string
	ImageURL    string
	Status      SubmissionStatus
	CreatedAt   time.Time
}

// VoteValue is a single voter's verdict.
type VoteValue string

const (
	VoteApprove VoteValue = "approve"
	VoteDeny    VoteValue = "deny"
)

// Vote is one peer's verdict on a pending submission. A voter gets one row
// per job; recasting replaces it.
type Vote struct {
	ID        string
	JobID     string
	VoterID   string
	Vote      VoteValue
	Comment   *string
	CreatedAt time.Time
}

// VoteCounts is the per-side tally for a job.
type VoteCounts struct {
	Approve int
	Deny    int
}
