package job

import "time"

// Status values are the exact strings stored in job_listings and filtered on
// by the mobile clients.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	// StatusPending means a completion submission is awaiting peer verification.
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusRejected  Status = "Rejected"
)

// IsTerminal reports whether no further status writes are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// CanTransition reports whether from→to is an edge of the lifecycle graph:
// Open → In Progress → Pending → {Completed, Rejected}, plus the compensating
// In Progress → Open rollback used when escrow authorization fails.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusPending || to == StatusOpen
	case StatusPending:
		return to == StatusCompleted || to == StatusRejected
	default:
		return false
	}
}

// PaymentState tracks the escrow hold attached to a listing.
type PaymentState string

const (
	PaymentAuthorized PaymentState = "authorized"
	PaymentCaptured   PaymentState = "captured"
	PaymentRefunded   PaymentState = "refunded"
)

// Listing mirrors the job_listings table. Listings are never hard-deleted;
// terminal rows are retained as history.
type Listing struct {
	ID             string
	Title          string
	Description    string
	Category       string
	Address        string
	Latitude       float64
	Longitude      float64
	ImageURL       *string
	PostedByUserID string
	PostedByName   string
	Status         Status

	// escrow record, set when a proposal is approved
	PaymentIntentID   *string
	EscrowAmountCents *int64
	EscrowCurrency    *string
	PaymentStatus     *PaymentState

	Rating    *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filters narrows List queries.
type Filters struct {
	PosterID string
	Status   Status
	Page     int
	PageSize int
}
