package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigflow/geo"
)

var (
	// ErrInvalidListing signals a required field is missing.
	ErrInvalidListing = errors.New("job: title, description and address are required")
	// ErrUnresolvedAddress signals the address could not be geocoded. Radius
	// search needs a coordinate pair, so the listing is not created.
	ErrUnresolvedAddress = errors.New("job: address could not be resolved")
)

// Service owns the job lifecycle: creation and every status transition.
type Service struct {
	repo     Repository
	geocoder geo.Geocoder
	idGen    func() string
	now      func() time.Time
}

// CreateParams carries everything a new listing needs up front. The image is
// uploaded by the client before creation, so the listing is constructed
// complete in memory and persisted exactly once.
type CreateParams struct {
	Title          string
	Description    string
	Category       string
	Address        string
	ImageURL       *string
	PostedByUserID string
	PostedByName   string
}

func NewService(repo Repository, geocoder geo.Geocoder) *Service {
	return &Service{
		repo:     repo,
		geocoder: geocoder,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
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

// Create validates and geocodes the listing, then persists it with status
// Open.
func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	title := strings.TrimSpace(params.Title)
	description := strings.TrimSpace(params.Description)
	address := strings.TrimSpace(params.Address)
	if title == "" || description == "" || address == "" {
		return Listing{}, ErrInvalidListing
	}
	if params.PostedByUserID == "" {
		return Listing{}, fmt.Errorf("job: missing poster user id")
	}

	point, err := s.geocoder.Geocode(ctx, address)
	if err != nil {
		if errors.Is(err, geo.ErrNoResults) {
			return Listing{}, fmt.Errorf("%w: %q", ErrUnresolvedAddress, address)
		}
		return Listing{}, fmt.Errorf("job: geocode address: %w", err)
	}

	listing := Listing{
		ID:             s.idGen(),
		Title:          title,
		Description:    description,
		Category:       strings.TrimSpace(params.Category),
		Address:        address,
		Latitude:       point.Latitude,
		Longitude:      point.Longitude,
		ImageURL:       params.ImageURL,
		PostedByUserID: params.PostedByUserID,
		PostedByName:   params.PostedByName,
		Status:         StatusOpen,
	}

	return s.repo.Create(ctx, listing)
}

func (s *Service) GetByID(ctx context.Context, id string) (Listing, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) ListNear(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Listing, error) {
	return s.repo.ListNear(ctx, lat, lon, radiusKm, limit)
}

// MarkInProgress moves Open → In Progress (proposal approved).
func (s *Service) MarkInProgress(ctx context.Context, id string) error {
	return s.repo.Transition(ctx, id, StatusOpen, StatusInProgress)
}

// RevertToOpen is the compensating transition for a failed escrow
// authorization.
func (s *Service) RevertToOpen(ctx context.Context, id string) error {
	return s.repo.Transition(ctx, id, StatusInProgress, StatusOpen)
}

// MarkPendingVerification moves In Progress → Pending (worker submitted
// completion).
func (s *Service) MarkPendingVerification(ctx context.Context, id string) error {
	return s.repo.Transition(ctx, id, StatusInProgress, StatusPending)
}

// MarkTerminal moves Pending → outcome. Outcome must be Completed or
// Rejected. Exactly one caller wins under concurrency; losers get
// ErrStaleStatus.
func (s *Service) MarkTerminal(ctx context.Context, id string, outcome Status) error {
	if !outcome.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, outcome)
	}
	return s.repo.Transition(ctx, id, StatusPending, outcome)
}

// SetEscrow persists the authorization reference returned by the payment
// gateway.
func (s *Service) SetEscrow(ctx context.Context, id, paymentIntentID string, amountCents int64, currency string) error {
	return s.repo.SetEscrow(ctx, id, paymentIntentID, amountCents, currency)
}

// ClearEscrow drops the escrow record during approval rollback, before any
// settlement could have happened.
func (s *Service) ClearEscrow(ctx context.Context, id string) error {
	return s.repo.ClearEscrow(ctx, id)
}

// SettleEscrow flips the escrow record out of authorized. The repository
// guard makes this at-most-once; a second settle returns
// ErrEscrowAlreadySettled.
func (s *Service) SettleEscrow(ctx context.Context, id string, state PaymentState) error {
	if state != PaymentCaptured && state != PaymentRefunded {
		return fmt.Errorf("job: %q is not a settled payment state", state)
	}
	return s.repo.SetPaymentStatus(ctx, id, state)
}

// SetRating records the poster's rating after completion.
func (s *Service) SetRating(ctx context.Context, id string, rating float64) error {
	if rating < 0 || rating > 5 {
		return fmt.Errorf("job: rating %v out of range", rating)
	}
	return s.repo.SetRating(ctx, id, rating)
}
