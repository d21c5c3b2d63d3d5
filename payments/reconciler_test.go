package payments

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSettlementStore struct {
	unsettled []UnsettledJob
	settled   map[string]string
	listErr   error
}

func newFakeSettlementStore(jobs ...UnsettledJob) *fakeSettlementStore {
	return &fakeSettlementStore{unsettled: jobs, settled: make(map[string]string)}
}

func (f *fakeSettlementStore) ListUnsettled(_ context.Context, _ int) ([]UnsettledJob, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]UnsettledJob, 0, len(f.unsettled))
	for _, j := range f.unsettled {
		if _, ok := f.settled[j.JobID]; !ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeSettlementStore) MarkSettled(_ context.Context, jobID, paymentState string) error {
	f.settled[jobID] = paymentState
	return nil
}

type fakeGateway struct {
	captures   []string
	refunds    []string
	captureErr error
	refundErr  error
}

func (f *fakeGateway) Authorize(_ context.Context, params AuthorizeParams) (Authorization, error) {
	return Authorization{PaymentIntentID: "pi_" + params.JobID}, nil
}

func (f *fakeGateway) Capture(_ context.Context, id string) (CaptureResult, error) {
	if f.captureErr != nil {
		return CaptureResult{}, f.captureErr
	}
	f.captures = append(f.captures, id)
	return CaptureResult{PaymentIntentID: id}, nil
}

func (f *fakeGateway) Refund(_ context.Context, id string) (RefundResult, error) {
	if f.refundErr != nil {
		return RefundResult{}, f.refundErr
	}
	f.refunds = append(f.refunds, id)
	return RefundResult{PaymentIntentID: id}, nil
}

func TestSweep_CapturesCompletedAndRefundsRejected(t *testing.T) {
	store := newFakeSettlementStore(
		UnsettledJob{JobID: "j1", Status: "Completed", PaymentIntentID: "pi_1"},
		UnsettledJob{JobID: "j2", Status: "Rejected", PaymentIntentID: "pi_2"},
	)
	gw := &fakeGateway{}
	r := NewReconciler(store, gw, time.Minute, time.Second, time.Minute)

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(gw.captures) != 1 || gw.captures[0] != "pi_1" {
		t.Errorf("expected one capture of pi_1, got %v", gw.captures)
	}
	if len(gw.refunds) != 1 || gw.refunds[0] != "pi_2" {
		t.Errorf("expected one refund of pi_2, got %v", gw.refunds)
	}
	if store.settled["j1"] != "captured" || store.settled["j2"] != "refunded" {
		t.Errorf("unexpected settlement states: %v", store.settled)
	}
}

func TestSweep_BacksOffFailedJobs(t *testing.T) {
	store := newFakeSettlementStore(
		UnsettledJob{JobID: "j1", Status: "Completed", PaymentIntentID: "pi_1"},
	)
	gw := &fakeGateway{captureErr: &GatewayError{Op: "capture", Retryable: true, Err: errors.New("timeout")}}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r := NewReconciler(store, gw, time.Minute, 10*time.Second, time.Minute).
		WithClock(func() time.Time { return now })

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(store.settled) != 0 {
		t.Fatal("failed capture must not mark the job settled")
	}

	// within the backoff window the job is skipped entirely
	gw.captureErr = nil
	now = base.Add(5 * time.Second)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(gw.captures) != 0 {
		t.Fatalf("expected capture deferred during backoff, got %v", gw.captures)
	}

	// after the window it is retried and settles
	now = base.Add(11 * time.Second)
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("third sweep: %v", err)
	}
	if len(gw.captures) != 1 {
		t.Fatalf("expected exactly one capture after backoff, got %v", gw.captures)
	}
	if store.settled["j1"] != "captured" {
		t.Errorf("job not settled: %v", store.settled)
	}
}

func TestSweep_PropagatesListError(t *testing.T) {
	store := newFakeSettlementStore()
	store.listErr = errors.New("db down")
	r := NewReconciler(store, &fakeGateway{}, time.Minute, time.Second, time.Minute)

	if err := r.Sweep(context.Background()); err == nil {
		t.Fatal("expected list error to propagate")
	}
}
