package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/payments"
)

var (
	// ErrNotFound signals the listing does not exist.
	ErrNotFound = errors.New("job: not found")
	// ErrStaleStatus signals an optimistic transition lost a race: the
	// persisted status no longer matches the expected from-status. Callers
	// should refresh rather than blindly retry.
	ErrStaleStatus = errors.New("job: stale status")
	// ErrInvalidTransition signals the requested edge is not on the
	// lifecycle graph.
	ErrInvalidTransition = errors.New("job: invalid status transition")
	// ErrEscrowAlreadySettled signals the escrow already left the
	// authorized state; capture and refund happen exactly once.
	ErrEscrowAlreadySettled = errors.New("job: escrow already settled")
)

// Repository is the data access surface of the lifecycle engine.
type Repository interface {
	Create(ctx context.Context, listing Listing) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	List(ctx context.Context, filters Filters) ([]Listing, int, error)
	ListNear(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Listing, error)
	Transition(ctx context.Context, id string, from, to Status) error
	SetEscrow(ctx context.Context, id, paymentIntentID string, amountCents int64, currency string) error
	ClearEscrow(ctx context.Context, id string) error
	SetPaymentStatus(ctx context.Context, id string, state PaymentState) error
	SetRating(ctx context.Context, id string, rating float64) error
	ListUnsettled(ctx context.Context, limit int) ([]payments.UnsettledJob, error)
	MarkSettled(ctx context.Context, id, paymentState string) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listingColumns = `id, title, description, category, address, latitude, longitude, image_url,
	posted_by_user_id, posted_by_name, status, payment_intent_id, escrow_amount_cents,
	escrow_currency, payment_status, rating, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, listing Listing) (Listing, error) {
	query := fmt.Sprintf(`
		INSERT INTO job_listings (id, title, description, category, address, latitude, longitude,
			image_url, posted_by_user_id, posted_by_name, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING %s
	`, listingColumns)

	row := r.pool.QueryRow(ctx, query,
		listing.ID,
		listing.Title,
		listing.Description,
		listing.Category,
		listing.Address,
		listing.Latitude,
		listing.Longitude,
		listing.ImageURL,
		listing.PostedByUserID,
		listing.PostedByName,
		listing.Status,
	)

	created, err := scanListing(row)
	if err != nil {
		return Listing{}, fmt.Errorf("job: insert listing: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Listing, error) {
	query := fmt.Sprintf(`SELECT %s FROM job_listings WHERE id = $1`, listingColumns)

	listing, err := scanListing(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("job: get listing: %w", err)
	}
	return listing, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := "WHERE 1=1"
	args := []any{}
	if filters.PosterID != "" {
		args = append(args, filters.PosterID)
		where += fmt.Sprintf(" AND posted_by_user_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM job_listings %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		listingColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	listings := []Listing{}
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("job: scan listing: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("job: iterate listings: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM job_listings %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("job: count listings: %w", err)
	}

	return listings, total, nil
}

// ListNear returns open listings within radiusKm of the given point,
// nearest first. Haversine over lat/lon columns is fine at this scale.
func (r *PGRepository) ListNear(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Listing, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s, 6371 * 2 * asin(sqrt(
			power(sin(radians(latitude - $1) / 2), 2) +
			cos(radians($1)) * cos(radians(latitude)) *
			power(sin(radians(longitude - $2) / 2), 2)
		)) AS distance_km
		FROM job_listings
		WHERE status = 'Open'
		  AND 6371 * 2 * asin(sqrt(
			power(sin(radians(latitude - $1) / 2), 2) +
			cos(radians($1)) * cos(radians(latitude)) *
			power(sin(radians(longitude - $2) / 2), 2)
		)) <= $3
		ORDER BY distance_km ASC
		LIMIT $4
	`, listingColumns)

	rows, err := r.pool.Query(ctx, query, lat, lon, radiusKm, limit)
	if err != nil {
		return nil, fmt.Errorf("job: list near: %w", err)
	}
	defer rows.Close()

	listings := []Listing{}
	for rows.Next() {
		var distance float64
		listing, err := scanListingWith(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("job: scan nearby listing: %w", err)
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate nearby listings: %w", err)
	}
	return listings, nil
}

// Transition applies from→to only if the persisted status still equals from.
// The guarded UPDATE is the single serialization point for terminal-state
// entry: whichever caller's UPDATE matches first wins, everyone else gets
// ErrStaleStatus.
func (r *PGRepository) Transition(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE job_listings
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("job: transition %s -> %s: %w", from, to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM job_listings WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("job: transition existence check: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStatus
}

func (r *PGRepository) SetEscrow(ctx context.Context, id, paymentIntentID string, amountCents int64, currency string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_listings
		SET payment_intent_id = $2,
		    escrow_amount_cents = $3,
		    escrow_currency = $4,
		    payment_status = 'authorized',
		    updated_at = now()
		WHERE id = $1
	`, id, paymentIntentID, amountCents, currency)
	if err != nil {
		return fmt.Errorf("job: set escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearEscrow removes the escrow record, used by the approval rollback path.
func (r *PGRepository) ClearEscrow(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `
		UPDATE job_listings
		SET payment_intent_id = NULL,
		    escrow_amount_cents = NULL,
		    escrow_currency = NULL,
		    payment_status = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("job: clear escrow: %w", err)
	}
	return nil
}

// SetPaymentStatus moves the escrow out of authorized exactly once.
func (r *PGRepository) SetPaymentStatus(ctx context.Context, id string, state PaymentState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_listings
		SET payment_status = $2, updated_at = now()
		WHERE id = $1 AND payment_status = 'authorized'
	`, id, state)
	if err != nil {
		return fmt.Errorf("job: set payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEscrowAlreadySettled
	}
	return nil
}

func (r *PGRepository) SetRating(ctx context.Context, id string, rating float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE job_listings SET rating = $2, updated_at = now() WHERE id = $1`, id, rating)
	if err != nil {
		return fmt.Errorf("job: set rating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnsettled returns terminal jobs whose escrow is still authorized, for
// the payment reconciler.
func (r *PGRepository) ListUnsettled(ctx context.Context, limit int) ([]payments.UnsettledJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, status, payment_intent_id
		FROM job_listings
		WHERE status IN ('Completed', 'Rejected')
		  AND payment_status = 'authorized'
		  AND payment_intent_id IS NOT NULL
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("job: list unsettled: %w", err)
	}
	defer rows.Close()

	out := []payments.UnsettledJob{}
	for rows.Next() {
		var u payments.UnsettledJob
		if err := rows.Scan(&u.JobID, &u.Status, &u.PaymentIntentID); err != nil {
			return nil, fmt.Errorf("job: scan unsettled: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate unsettled: %w", err)
	}
	return out, nil
}

// MarkSettled satisfies payments.SettlementStore.
func (r *PGRepository) MarkSettled(ctx context.Context, id, paymentState string) error {
	return r.SetPaymentStatus(ctx, id, PaymentState(paymentState))
}

func scanListing(row pgx.Row) (Listing, error) {
	return scanListingInto(row)
}

func scanListingWith(row pgx.Row, extra ...any) (Listing, error) {
	return scanListingInto(row, extra...)
}

func scanListingInto(row pgx.Row, extra ...any) (Listing, error) {
	var l Listing
	dest := []any{
		&l.ID,
		&l.Title,
		&l.Description,
		&l.Category,
		&l.Address,
		&l.Latitude,
		&l.Longitude,
		&l.ImageURL,
		&l.PostedByUserID,
		&l.PostedByName,
		&l.Status,
		&l.PaymentIntentID,
		&l.EscrowAmountCents,
		&l.EscrowCurrency,
		&l.PaymentStatus,
		&l.Rating,
		&l.CreatedAt,
		&l.UpdatedAt,
	}
	dest = append(dest, extra...)
	return l, row.Scan(dest...)
}
