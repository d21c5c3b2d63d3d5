package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gigflow/auth"
	"gigflow/job"
	"gigflow/proposal"
	"gigflow/verification"
)

type ctxKey int

const ctxKeyUserID ctxKey = iota

// Service interfaces kept narrow so handler tests can stub them.

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	LinkPaymentAccount(ctx context.Context, userID, accountID string) error
	VerifyToken(token string) (string, error)
}

type jobService interface {
	Create(ctx context.Context, params job.CreateParams) (job.Listing, error)
	GetByID(ctx context.Context, id string) (job.Listing, error)
	List(ctx context.Context, filters job.Filters) ([]job.Listing, int, error)
	ListNear(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]job.Listing, error)
	SetRating(ctx context.Context, id string, rating float64) error
}

type proposalService interface {
	Submit(ctx context.Context, params proposal.SubmitParams) (proposal.Proposal, error)
	Approve(ctx context.Context, proposalID, callerID string) (proposal.ApproveResult, error)
	Decline(ctx context.Context, proposalID, callerID string) error
	ListByJob(ctx context.Context, jobID string) ([]proposal.Proposal, error)
	ListByWorker(ctx context.Context, workerID string) ([]proposal.Proposal, error)
}

type verificationService interface {
	SubmitCompletion(ctx context.Context, params verification.SubmitParams) (verification.Submission, error)
	GetPendingSubmission(ctx context.Context, jobID string) (verification.Submission, error)
	CastVote(ctx context.Context, params verification.VoteParams) (verification.VoteResult, error)
	ListVotes(ctx context.Context, jobID string) ([]verification.Vote, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	authService         authService
	jobService          jobService
	proposalService     proposalService
	verificationService verificationService
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/me", s.handleMe)
			r.Post("/me/payment-account", s.handleLinkPaymentAccount)

			r.Post("/jobs", s.handleCreateJob)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/near", s.handleJobsNear)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Post("/jobs/{jobID}/rating", s.handleRateJob)

			r.Post("/jobs/{jobID}/proposals", s.handleSubmitProposal)
			r.Get("/jobs/{jobID}/proposals", s.handleListProposals)
			r.Get("/my/proposals", s.handleMyProposals)
			r.Post("/proposals/{proposalID}/approve", s.handleApproveProposal)
			r.Post("/proposals/{proposalID}/decline", s.handleDeclineProposal)

			r.Post("/jobs/{jobID}/completion", s.handleSubmitCompletion)
			r.Get("/jobs/{jobID}/completion", s.handleGetCompletion)
			r.Post("/jobs/{jobID}/votes", s.handleCastVote)
			r.Get("/jobs/{jobID}/votes", s.handleListVotes)
		})
	})

	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

// --- auth handlers ---

type userResponse struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	Nickname         string  `json:"nickname"`
	PaymentAccountID *string `json:"paymentAccountId,omitempty"`
	Rating           float64 `json:"rating"`
	CreatedAt        string  `json:"createdAt"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		Nickname:         u.Nickname,
		PaymentAccountID: u.PaymentAccountID,
		Rating:           u.Rating,
		CreatedAt:        u.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*user))
}

// handleLinkPaymentAccount stores the payout account the client created at
// the payment gateway, so approved escrows can be released to this user.
func (s *Server) handleLinkPaymentAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID string `json:"accountId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(body.AccountID) == "" {
		writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}
	if err := s.authService.LinkPaymentAccount(r.Context(), userID(r), body.AccountID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- job handlers ---

type jobResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Category       string   `json:"category,omitempty"`
	Address        string   `json:"address"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	ImageURL       *string  `json:"imageUrl,omitempty"`
	PostedByUserID string   `json:"postedByUserId"`
	PostedByName   string   `json:"postedByName,omitempty"`
	Status         string   `json:"status"`
	PaymentStatus  *string  `json:"paymentStatus,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

func toJobResponse(l job.Listing) jobResponse {
	resp := jobResponse{
		ID:             l.ID,
		Title:          l.Title,
		Description:    l.Description,
		Category:       l.Category,
		Address:        l.Address,
		Latitude:       l.Latitude,
		Longitude:      l.Longitude,
		ImageURL:       l.ImageURL,
		PostedByUserID: l.PostedByUserID,
		PostedByName:   l.PostedByName,
		Status:         string(l.Status),
		Rating:         l.Rating,
		CreatedAt:      l.CreatedAt.Format(time.RFC3339),
	}
	if l.PaymentStatus != nil {
		state := string(*l.PaymentStatus)
		resp.PaymentStatus = &state
	}
	return resp
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Category    string  `json:"category"`
		Address     string  `json:"address"`
		ImageURL    *string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	poster, err := s.authService.GetUserByID(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	listing, err := s.jobService.Create(r.Context(), job.CreateParams{
		Title:          body.Title,
		Description:    body.Description,
		Category:       body.Category,
		Address:        body.Address,
		ImageURL:       body.ImageURL,
		PostedByUserID: poster.ID,
		PostedByName:   poster.Nickname,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(listing))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	listing, err := s.jobService.GetByID(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(listing))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := job.Filters{
		PosterID: q.Get("poster"),
		Status:   job.Status(q.Get("status")),
		Page:     queryInt(q.Get("page"), 1),
		PageSize: queryInt(q.Get("pageSize"), 20),
	}
	listings, total, err := s.jobService.List(r.Context(), filters)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]jobResponse, 0, len(listings))
	for _, l := range listings {
		items = append(items, toJobResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) handleJobsNear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil {
		writeError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	radius := queryFloat(q.Get("radiusKm"), 10)
	limit := queryInt(q.Get("limit"), 50)

	listings, err := s.jobService.ListNear(r.Context(), lat, lon, radius, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]jobResponse, 0, len(listings))
	for _, l := range listings {
		items = append(items, toJobResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleRateJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var body struct {
		Rating float64 `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	listing, err := s.jobService.GetByID(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if listing.PostedByUserID != userID(r) {
		writeError(w, http.StatusForbidden, "only the poster may rate the job")
		return
	}
	if err := s.jobService.SetRating(r.Context(), jobID, body.Rating); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- proposal handlers ---

type proposalResponse struct {
	ID             string `json:"id"`
	JobID          string `json:"jobId"`
	WorkerID       string `json:"workerId"`
	WorkerName     string `json:"workerName,omitempty"`
	PriceCents     int64  `json:"priceCents"`
	Message        string `json:"message,omitempty"`
	CompletionDate string `json:"completionDate"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
}

func toProposalResponse(p proposal.Proposal) proposalResponse {
	return proposalResponse{
		ID:             p.ID,
		JobID:          p.JobID,
		WorkerID:       p.WorkerID,
		WorkerName:     p.WorkerName,
		PriceCents:     p.PriceCents,
		Message:        p.Message,
		CompletionDate: p.CompletionDate.Format(time.RFC3339),
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PriceCents     int64      `json:"priceCents"`
		Message        string     `json:"message"`
		CompletionDate *time.Time `json:"completionDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	worker, err := s.authService.GetUserByID(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	params := proposal.SubmitParams{
		JobID:      chi.URLParam(r, "jobID"),
		WorkerID:   worker.ID,
		WorkerName: worker.Nickname,
		PriceCents: body.PriceCents,
		Message:    body.Message,
	}
	if body.CompletionDate != nil {
		params.CompletionDate = *body.CompletionDate
	}

	p, err := s.proposalService.Submit(r.Context(), params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	listing, err := s.jobService.GetByID(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if listing.PostedByUserID != userID(r) {
		writeError(w, http.StatusForbidden, "only the poster may list proposals")
		return
	}

	proposals, err := s.proposalService.ListByJob(r.Context(), jobID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		items = append(items, toProposalResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMyProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.proposalService.ListByWorker(r.Context(), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		items = append(items, toProposalResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleApproveProposal(w http.ResponseWriter, r *http.Request) {
	result, err := s.proposalService.Approve(r.Context(), chi.URLParam(r, "proposalID"), userID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal":     toProposalResponse(result.Proposal),
		"clientSecret": result.ClientSecret,
	})
}

func (s *Server) handleDeclineProposal(w http.ResponseWriter, r *http.Request) {
	if err := s.proposalService.Decline(r.Context(), chi.URLParam(r, "proposalID"), userID(r)); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- verification handlers ---

type submissionResponse struct {
	ID          string `json:"id"`
	JobID       string `json:"jobId"`
	WorkerID    string `json:"workerId"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

func toSubmissionResponse(sub verification.Submission) submissionResponse {
	return submissionResponse{
		ID:          sub.ID,
		JobID:       sub.JobID,
		WorkerID:    sub.WorkerID,
		Description: sub.Description,
		ImageURL:    sub.ImageURL,
		Status:      string(sub.Status),
		CreatedAt:   sub.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleSubmitCompletion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description string `json:"description"`
		ImageURL    string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	sub, err := s.verificationService.SubmitCompletion(r.Context(), verification.SubmitParams{
		JobID:       chi.URLParam(r, "jobID"),
		WorkerID:    userID(r),
		Description: body.Description,
		ImageURL:    body.ImageURL,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

func (s *Server) handleGetCompletion(w http.ResponseWriter, r *http.Request) {
	sub, err := s.verificationService.GetPendingSubmission(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vote    string  `json:"vote"`
		Comment *string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	result, err := s.verificationService.CastVote(r.Context(), verification.VoteParams{
		JobID:   chi.URLParam(r, "jobID"),
		VoterID: userID(r),
		Vote:    verification.VoteValue(body.Vote),
		Comment: body.Comment,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"approve": result.Counts.Approve,
		"deny":    result.Counts.Deny,
		"outcome": result.Outcome.String(),
	})
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := s.verificationService.ListVotes(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type voteResponse struct {
		VoterID   string  `json:"voterId"`
		Vote      string  `json:"vote"`
		Comment   *string `json:"comment,omitempty"`
		CreatedAt string  `json:"createdAt"`
	}
	items := make([]voteResponse, 0, len(votes))
	for _, v := range votes {
		items = append(items, voteResponse{
			VoterID:   v.VoterID,
			Vote:      string(v.Vote),
			Comment:   v.Comment,
			CreatedAt: v.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// --- error mapping ---

// writeDomainError maps sentinel errors from the domain packages onto HTTP
// status codes.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, proposal.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, verification.ErrSubmissionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, proposal.ErrNotPoster),
		errors.Is(err, verification.ErrNotWorker),
		errors.Is(err, verification.ErrIneligibleVoter):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, job.ErrStaleStatus),
		errors.Is(err, proposal.ErrDuplicate),
		errors.Is(err, proposal.ErrAlreadyResolved),
		errors.Is(err, proposal.ErrJobAssigned),
		errors.Is(err, verification.ErrAlreadySubmitted),
		errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, job.ErrInvalidListing),
		errors.Is(err, job.ErrUnresolvedAddress),
		errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, proposal.ErrInvalidProposal),
		errors.Is(err, proposal.ErrJobNotOpen),
		errors.Is(err, proposal.ErrOwnJob),
		errors.Is(err, proposal.ErrEscrowDeclined),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, verification.ErrJobNotInProgress),
		errors.Is(err, verification.ErrVotingClosed),
		errors.Is(err, verification.ErrInvalidVote),
		errors.Is(err, verification.ErrMissingEvidence),
		errors.Is(err, verification.ErrNoApprovedWorker):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

func queryFloat(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		return f
	}
	return fallback
}
