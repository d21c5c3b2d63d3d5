package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	"gigflow/job"
	"gigflow/payments"
)

type fakeRepo struct {
	proposals      map[string]*Proposal
	markApproveErr error
}

func newFakeRepo(proposals ...Proposal) *fakeRepo {
	f := &fakeRepo{proposals: make(map[string]*Proposal)}
	for i := range proposals {
		p := proposals[i]
		f.proposals[p.ID] = &p
	}
	return f
}

func (f *fakeRepo) Create(_ context.Context, p Proposal) (Proposal, error) {
	for _, existing := range f.proposals {
		if existing.JobID == p.JobID && existing.WorkerID == p.WorkerID && existing.Status != StatusDeclined {
			return Proposal{}, ErrDuplicate
		}
	}
	f.proposals[p.ID] = &p
	return p, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return *p, nil
}

func (f *fakeRepo) ListByJob(_ context.Context, jobID string) ([]Proposal, error) {
	var out []Proposal
	for _, p := range f.proposals {
		if p.JobID == jobID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByWorker(_ context.Context, workerID string) ([]Proposal, error) {
	var out []Proposal
	for _, p := range f.proposals {
		if p.WorkerID == workerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkApproved(_ context.Context, id string) error {
	if f.markApproveErr != nil {
		return f.markApproveErr
	}
	p, ok := f.proposals[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusSubmitted {
		return ErrAlreadyResolved
	}
	p.Status = StatusApproved
	return nil
}

func (f *fakeRepo) MarkDeclined(_ context.Context, id string) error {
	p, ok := f.proposals[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusSubmitted {
		return ErrAlreadyResolved
	}
	p.Status = StatusDeclined
	return nil
}

type fakeJobs struct {
	listings     map[string]*job.Listing
	escrows      map[string]string
	setEscrowErr error
}

func newFakeJobs(listings ...job.Listing) *fakeJobs {
	f := &fakeJobs{listings: make(map[string]*job.Listing), escrows: make(map[string]string)}
	for i := range listings {
		l := listings[i]
		f.listings[l.ID] = &l
	}
	return f
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (job.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return job.Listing{}, job.ErrNotFound
	}
	return *l, nil
}

func (f *fakeJobs) transition(id string, from, to job.Status) error {
	l, ok := f.listings[id]
	if !ok {
		return job.ErrNotFound
	}
	if l.Status != from {
		return job.ErrStaleStatus
	}
	l.Status = to
	return nil
}

func (f *fakeJobs) MarkInProgress(_ context.Context, id string) error {
	return f.transition(id, job.StatusOpen, job.StatusInProgress)
}

func (f *fakeJobs) RevertToOpen(_ context.Context, id string) error {
	return f.transition(id, job.StatusInProgress, job.StatusOpen)
}

func (f *fakeJobs) SetEscrow(_ context.Context, id, intentID string, _ int64, _ string) error {
	if f.setEscrowErr != nil {
		return f.setEscrowErr
	}
	f.escrows[id] = intentID
	return nil
}

func (f *fakeJobs) ClearEscrow(_ context.Context, id string) error {
	delete(f.escrows, id)
	return nil
}

type fakeGateway struct {
	authErr  error
	lastKey  string
	lastAuth payments.AuthorizeParams
}

func (f *fakeGateway) Authorize(_ context.Context, params payments.AuthorizeParams) (payments.Authorization, error) {
	f.lastKey = params.IdempotencyKey
	f.lastAuth = params
	if f.authErr != nil {
		return payments.Authorization{}, f.authErr
	}
	return payments.Authorization{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret"}, nil
}

func (f *fakeGateway) Capture(_ context.Context, id string) (payments.CaptureResult, error) {
	return payments.CaptureResult{PaymentIntentID: id}, nil
}

func (f *fakeGateway) Refund(_ context.Context, id string) (payments.RefundResult, error) {
	return payments.RefundResult{PaymentIntentID: id}, nil
}

func openListing(id, posterID string) job.Listing {
	return job.Listing{ID: id, PostedByUserID: posterID, Status: job.StatusOpen}
}

func TestSubmit_DefaultsCompletionDate(t *testing.T) {
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(newFakeRepo(), jobs, &fakeGateway{}).
		WithIDGenerator(func() string { return "prop-1" }).
		WithClock(func() time.Time { return now })

	p, err := svc.Submit(context.Background(), SubmitParams{
		JobID:      "job-1",
		WorkerID:   "worker-1",
		WorkerName: "Sam",
		PriceCents: 5000,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.BuyerID != "buyer-1" {
		t.Errorf("buyer not denormalized from listing: %q", p.BuyerID)
	}
	if want := now.Add(7 * 24 * time.Hour); !p.CompletionDate.Equal(want) {
		t.Errorf("completion date = %v, want %v", p.CompletionDate, want)
	}
	if p.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted", p.Status)
	}
}

func TestSubmit_Rejections(t *testing.T) {
	jobs := newFakeJobs(
		openListing("job-open", "buyer-1"),
		job.Listing{ID: "job-busy", PostedByUserID: "buyer-1", Status: job.StatusInProgress},
	)
	svc := NewService(newFakeRepo(), jobs, &fakeGateway{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitParams{JobID: "job-open", WorkerID: "worker-1", PriceCents: 0})
	if !errors.Is(err, ErrInvalidProposal) {
		t.Errorf("zero price: expected ErrInvalidProposal, got %v", err)
	}

	_, err = svc.Submit(ctx, SubmitParams{JobID: "job-busy", WorkerID: "worker-1", PriceCents: 100})
	if !errors.Is(err, ErrJobNotOpen) {
		t.Errorf("busy job: expected ErrJobNotOpen, got %v", err)
	}

	_, err = svc.Submit(ctx, SubmitParams{JobID: "job-open", WorkerID: "buyer-1", PriceCents: 100})
	if !errors.Is(err, ErrOwnJob) {
		t.Errorf("own job: expected ErrOwnJob, got %v", err)
	}
}

func TestSubmit_DuplicateWorker(t *testing.T) {
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	svc := NewService(newFakeRepo(), jobs, &fakeGateway{})
	ctx := context.Background()

	params := SubmitParams{JobID: "job-1", WorkerID: "worker-1", PriceCents: 100}
	if _, err := svc.Submit(ctx, params); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := svc.Submit(ctx, params); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func submittedProposal(id string) Proposal {
	return Proposal{
		ID:         id,
		JobID:      "job-1",
		BuyerID:    "buyer-1",
		WorkerID:   "worker-1",
		PriceCents: 5000,
		Status:     StatusSubmitted,
	}
}

func TestApprove_Success(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	gw := &fakeGateway{}
	svc := NewService(repo, jobs, gw)

	res, err := svc.Approve(context.Background(), "prop-1", "buyer-1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.ClientSecret != "pi_1_secret" {
		t.Errorf("client secret = %q", res.ClientSecret)
	}
	if jobs.listings["job-1"].Status != job.StatusInProgress {
		t.Errorf("job status = %s, want In Progress", jobs.listings["job-1"].Status)
	}
	if jobs.escrows["job-1"] != "pi_1" {
		t.Errorf("escrow intent = %q, want pi_1", jobs.escrows["job-1"])
	}
	if repo.proposals["prop-1"].Status != StatusApproved {
		t.Errorf("proposal status = %s, want approved", repo.proposals["prop-1"].Status)
	}
	if gw.lastKey != "approve-job-1-prop-1" {
		t.Errorf("idempotency key = %q", gw.lastKey)
	}
	if gw.lastAuth.AmountCents != 5000 || gw.lastAuth.SellerID != "worker-1" {
		t.Errorf("authorize params = %+v", gw.lastAuth)
	}
}

func TestApprove_NotPoster(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	svc := NewService(repo, jobs, &fakeGateway{})

	if _, err := svc.Approve(context.Background(), "prop-1", "someone-else"); !errors.Is(err, ErrNotPoster) {
		t.Fatalf("expected ErrNotPoster, got %v", err)
	}
	if jobs.listings["job-1"].Status != job.StatusOpen {
		t.Error("job must stay Open when the caller is not the poster")
	}
}

func TestApprove_AuthorizationFailureRevertsJob(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	gw := &fakeGateway{authErr: &payments.GatewayError{Op: "authorize", Status: 402, Retryable: false}}
	svc := NewService(repo, jobs, gw)

	_, err := svc.Approve(context.Background(), "prop-1", "buyer-1")
	if !errors.Is(err, ErrEscrowDeclined) {
		t.Fatalf("expected ErrEscrowDeclined, got %v", err)
	}
	if jobs.listings["job-1"].Status != job.StatusOpen {
		t.Errorf("job status = %s, want Open after rollback", jobs.listings["job-1"].Status)
	}
	if _, ok := jobs.escrows["job-1"]; ok {
		t.Error("no escrow may be recorded after a failed authorization")
	}
	if repo.proposals["prop-1"].Status != StatusSubmitted {
		t.Errorf("proposal status = %s, want submitted after rollback", repo.proposals["prop-1"].Status)
	}
}

func TestApprove_EscrowPersistFailureRevertsJob(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	jobs.setEscrowErr = errors.New("db down")
	svc := NewService(repo, jobs, &fakeGateway{})

	_, err := svc.Approve(context.Background(), "prop-1", "buyer-1")
	if err == nil {
		t.Fatal("expected an error when the escrow write fails")
	}
	if jobs.listings["job-1"].Status != job.StatusOpen {
		t.Errorf("job status = %s, want Open after rollback", jobs.listings["job-1"].Status)
	}
	if _, ok := jobs.escrows["job-1"]; ok {
		t.Error("escrow must be cleared after rollback")
	}
	if repo.proposals["prop-1"].Status != StatusSubmitted {
		t.Errorf("proposal status = %s, want submitted after rollback", repo.proposals["prop-1"].Status)
	}
}

func TestApprove_ProposalFlipFailureRevertsJob(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	repo.markApproveErr = errors.New("db down")
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	svc := NewService(repo, jobs, &fakeGateway{})

	_, err := svc.Approve(context.Background(), "prop-1", "buyer-1")
	if err == nil {
		t.Fatal("expected an error when the proposal flip fails")
	}
	if jobs.listings["job-1"].Status != job.StatusOpen {
		t.Errorf("job status = %s, want Open after rollback", jobs.listings["job-1"].Status)
	}
	if _, ok := jobs.escrows["job-1"]; ok {
		t.Error("escrow must be cleared after rollback")
	}
}

func TestApprove_StaleJob(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(job.Listing{ID: "job-1", PostedByUserID: "buyer-1", Status: job.StatusInProgress})
	svc := NewService(repo, jobs, &fakeGateway{})

	if _, err := svc.Approve(context.Background(), "prop-1", "buyer-1"); !errors.Is(err, job.ErrStaleStatus) {
		t.Fatalf("expected job.ErrStaleStatus, got %v", err)
	}
}

func TestDecline(t *testing.T) {
	repo := newFakeRepo(submittedProposal("prop-1"))
	jobs := newFakeJobs(openListing("job-1", "buyer-1"))
	svc := NewService(repo, jobs, &fakeGateway{})
	ctx := context.Background()

	if err := svc.Decline(ctx, "prop-1", "stranger"); !errors.Is(err, ErrNotPoster) {
		t.Fatalf("expected ErrNotPoster, got %v", err)
	}
	if err := svc.Decline(ctx, "prop-1", "buyer-1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if repo.proposals["prop-1"].Status != StatusDeclined {
		t.Errorf("proposal status = %s, want declined", repo.proposals["prop-1"].Status)
	}
	if err := svc.Decline(ctx, "prop-1", "buyer-1"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}
