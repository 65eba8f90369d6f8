package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"trading-analysis-service/internal/config"
	"trading-analysis-service/internal/ledger"
	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/ratelimit"
	"trading-analysis-service/internal/service"
	"trading-analysis-service/internal/store"
	"trading-analysis-service/internal/telemetry"
)

// userHeader carries the authenticated principal. Token verification lives in
// the fronting proxy; this service trusts the header it injects.
const userHeader = "X-User-ID"

// Analyses is the job lifecycle surface the server exposes over HTTP.
type Analyses interface {
	CreateJob(ctx context.Context, req models.AnalysisRequest, userID string) (models.AnalysisJob, error)
	RunAnalysis(ctx context.Context, jobID, userID string)
	GetJob(ctx context.Context, id, userID string) (models.AnalysisJob, error)
	ListJobs(ctx context.Context, userID string) ([]models.JobSummary, error)
}

// Profiles is the user profile surface.
type Profiles interface {
	GetOrCreateProfile(ctx context.Context, userID string, initialCredits int) (models.Profile, error)
	UpdateProfile(ctx context.Context, userID string, upd store.ProfileUpdate) (models.Profile, error)
}

// CreditHistory lists a user's recent ledger entries.
type CreditHistory interface {
	History(ctx context.Context, userID string) ([]models.LedgerEntry, error)
}

// Server wires the HTTP handlers.
type Server struct {
	cfg      config.Config
	analyses Analyses
	profiles Profiles
	credits  CreditHistory
	limiter  *ratelimit.SubmissionLimiter
	runCtx   context.Context
	log      *zap.Logger
}

// New constructs the API server. runCtx is the long-lived context background
// executions run under; it must outlive individual requests. limiter may be
// nil to disable submission throttling.
func New(cfg config.Config, analyses Analyses, profiles Profiles, credits CreditHistory, limiter *ratelimit.SubmissionLimiter, runCtx context.Context, log *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		analyses: analyses,
		profiles: profiles,
		credits:  credits,
		limiter:  limiter,
		runCtx:   runCtx,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/analysis", func(r chi.Router) {
		r.Post("/", s.handleStartAnalysis)
		r.Get("/", s.handleListAnalyses)
		r.Get("/{id}", s.handleGetAnalysis)
	})
	r.Route("/api/profile", func(r chi.Router) {
		r.Get("/", s.handleGetProfile)
		r.Patch("/", s.handleUpdateProfile)
		r.Get("/credits", s.handleCreditHistory)
	})
	return r
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}

	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), userID)
		if err != nil {
			s.log.Error("rate limiter", zap.Error(err))
			httpError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			httpError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	job, err := s.analyses.CreateJob(r.Context(), req, userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	// One background execution per job, detached from the request context.
	go s.analyses.RunAnalysis(s.runCtx, job.ID, userID)

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	job, err := s.analyses.GetJob(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	summaries, err := s.analyses.ListJobs(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if summaries == nil {
		summaries = []models.JobSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	profile, err := s.profiles.GetOrCreateProfile(r.Context(), userID, s.cfg.InitialCredits)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type profileUpdateRequest struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
	Language    *string `json:"language"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DisplayName == nil && req.AvatarURL == nil && req.Language == nil {
		httpError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	profile, err := s.profiles.UpdateProfile(r.Context(), userID, store.ProfileUpdate{
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
		Language:    req.Language,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	entries, err := s.credits.History(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		httpError(w, http.StatusUnauthorized, "missing user identity")
		return "", false
	}
	return userID, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientCredits):
		httpError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, service.ErrNotFound):
		httpError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func httpError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
