package proposal

import "time"

// Status values stored in the proposals table.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusDeclined  Status = "declined"
)

// Proposal is a worker's offer to do a job at a price. BuyerID is denormalized
// from the listing so payment rows can be built without a join.
type Proposal struct {
	ID             string
	JobID          string
	BuyerID        string
	WorkerID       string
	WorkerName     string
	PriceCents     int64
	Message        string
	CompletionDate time.Time
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
