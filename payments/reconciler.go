package payments

import (
	"context"
	"errors"
	"log"
	"time"
)

// UnsettledJob is a terminal job whose escrow has not moved yet: the status
// flip landed but the capture or refund call never succeeded.
type UnsettledJob struct {
	JobID           string
	Status          string
	PaymentIntentID string
}

// SettlementStore is the slice of the job repository the reconciler needs.
type SettlementStore interface {
	ListUnsettled(ctx context.Context, limit int) ([]UnsettledJob, error)
	MarkSettled(ctx context.Context, jobID, paymentState string) error
}

// Reconciler sweeps terminal jobs with unmoved escrow and retries the
// capture or refund. This is the single safety net behind the quorum
// engine's explicit settlement call; it never initiates a settlement the
// quorum engine did not already decide. Payment operations are idempotent,
// so re-running a settlement that actually landed is harmless.
type Reconciler struct {
	store   SettlementStore
	gateway Gateway

	interval       time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// per-job backoff state, touched only from Run's goroutine
	nextAttempt map[string]time.Time
	backoff     map[string]time.Duration

	now func() time.Time
}

// NewReconciler builds a reconciler with the given sweep interval and
// per-job exponential backoff bounds.
func NewReconciler(store SettlementStore, gateway Gateway, interval, initialBackoff, maxBackoff time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if initialBackoff <= 0 {
		initialBackoff = 5 * time.Second
	}
	if maxBackoff < initialBackoff {
		maxBackoff = 10 * time.Minute
	}
	return &Reconciler{
		store:          store,
		gateway:        gateway,
		interval:       interval,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		nextAttempt:    make(map[string]time.Time),
		backoff:        make(map[string]time.Duration),
		now:            time.Now,
	}
}

// WithClock overrides the reconciler's clock for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Run sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("payments: reconcile sweep: %v", err)
			}
		}
	}
}

// Sweep performs one pass over unsettled jobs. Exported so tests and the
// admin surface can trigger a pass directly.
func (r *Reconciler) Sweep(ctx context.Context) error {
	jobs, err := r.store.ListUnsettled(ctx, 100)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(jobs))
	now := r.now()

	for _, job := range jobs {
		seen[job.JobID] = struct{}{}
		if next, ok := r.nextAttempt[job.JobID]; ok && now.Before(next) {
			continue
		}
		if err := r.settle(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.deferJob(job.JobID, now)
			reconcileFailures.Inc()
			log.Printf("payments: reconcile job %s (%s): %v", job.JobID, job.Status, err)
			continue
		}
		delete(r.nextAttempt, job.JobID)
		delete(r.backoff, job.JobID)
		reconcileRecovered.Inc()
		log.Printf("payments: reconciled escrow for job %s (%s)", job.JobID, job.Status)
	}

	// drop backoff state for jobs that settled through other paths
	for id := range r.nextAttempt {
		if _, ok := seen[id]; !ok {
			delete(r.nextAttempt, id)
			delete(r.backoff, id)
		}
	}

	return nil
}

func (r *Reconciler) settle(ctx context.Context, job UnsettledJob) error {
	reconcileAttempts.Inc()

	switch job.Status {
	case "Completed":
		if _, err := r.gateway.Capture(ctx, job.PaymentIntentID); err != nil {
			return err
		}
		return r.store.MarkSettled(ctx, job.JobID, "captured")
	case "Rejected":
		if _, err := r.gateway.Refund(ctx, job.PaymentIntentID); err != nil {
			return err
		}
		return r.store.MarkSettled(ctx, job.JobID, "refunded")
	default:
		return errors.New("payments: unsettled job in non-terminal status " + job.Status)
	}
}

func (r *Reconciler) deferJob(jobID string, now time.Time) {
	b, ok := r.backoff[jobID]
	if !ok {
		b = r.initialBackoff
	} else {
		b *= 2
		if b > r.maxBackoff {
			b = r.maxBackoff
		}
	}
	r.backoff[jobID] = b
	r.nextAttempt[jobID] = now.Add(b)
}
