// Package service owns the analysis job lifecycle: creation with its ledger
// debit, the single background execution per job, and the live-registry read
// path that serves polling clients while a job runs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/pipeline"
	"trading-analysis-service/internal/progress"
	"trading-analysis-service/internal/store"
)

// ErrNotFound is returned for unknown or unauthorized job ids.
var ErrNotFound = store.ErrNotFound

// ErrInvalidRequest marks creation-time validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// JobStore is the durable persistence collaborator. Writes happen at phase
// boundaries only: creation, start, terminal.
type JobStore interface {
	InsertJob(ctx context.Context, job models.AnalysisJob) error
	MarkJobRunning(ctx context.Context, id string, progress []models.ProgressStep) error
	MarkJobCompleted(ctx context.Context, id string, result *models.AnalysisResult, progress []models.ProgressStep, completedAt time.Time) error
	MarkJobFailed(ctx context.Context, id string, jobErr string, progress []models.ProgressStep, completedAt time.Time) error
	GetJob(ctx context.Context, id, userID string) (models.AnalysisJob, error)
	ListJobs(ctx context.Context, userID string) ([]models.JobSummary, error)
}

// Ledger is the billing collaborator: debit on creation, at most one refund
// on failure.
type Ledger interface {
	Debit(ctx context.Context, userID, jobID string) error
	Refund(ctx context.Context, userID, jobID string) error
}

// ResultArchiver receives completed jobs for long-term storage.
type ResultArchiver interface {
	Archive(ctx context.Context, job models.AnalysisJob) error
}

// Options tune request defaulting.
type Options struct {
	DefaultProvider     string
	DefaultDebateRounds int
	DefaultRiskRounds   int
}

// AnalysisService is the job lifecycle manager.
type AnalysisService struct {
	store    JobStore
	ledger   Ledger
	engine   pipeline.Engine
	registry *progress.Registry
	archiver ResultArchiver
	opts     Options
	log      *zap.Logger
}

// New wires the lifecycle manager. archiver may be nil.
func New(st JobStore, led Ledger, eng pipeline.Engine, archiver ResultArchiver, opts Options, log *zap.Logger) *AnalysisService {
	if opts.DefaultDebateRounds < 1 {
		opts.DefaultDebateRounds = 1
	}
	if opts.DefaultRiskRounds < 1 {
		opts.DefaultRiskRounds = 1
	}
	return &AnalysisService{
		store:    st,
		ledger:   led,
		engine:   eng,
		registry: progress.NewRegistry(),
		archiver: archiver,
		opts:     opts,
		log:      log,
	}
}

// CreateJob validates the request, debits the user, and persists the initial
// pending row. The debit runs first so an insufficient balance rejects the
// submission before any job row exists; if the insert then fails, the debit
// is compensated best-effort. Execution is not started here; the caller
// dispatches RunAnalysis exactly once.
func (s *AnalysisService) CreateJob(ctx context.Context, req models.AnalysisRequest, userID string) (models.AnalysisJob, error) {
	norm, err := s.normalize(req)
	if err != nil {
		return models.AnalysisJob{}, err
	}

	job := models.AnalysisJob{
		ID:                   uuid.NewString(),
		UserID:               userID,
		Status:               models.StatusPending,
		Ticker:               norm.Ticker,
		Date:                 norm.Date,
		Analysts:             norm.Analysts,
		MaxDebateRounds:      norm.MaxDebateRounds,
		MaxRiskDiscussRounds: norm.MaxRiskDiscussRounds,
		Provider:             norm.Provider,
		CreatedAt:            time.Now().UTC(),
	}

	if err := s.ledger.Debit(ctx, userID, job.ID); err != nil {
		return models.AnalysisJob{}, err
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		if refundErr := s.ledger.Refund(ctx, userID, job.ID); refundErr != nil {
			s.log.Error("compensating refund after failed insert", zap.String("job_id", job.ID), zap.Error(refundErr))
		}
		return models.AnalysisJob{}, fmt.Errorf("persist job: %w", err)
	}

	s.log.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("user_id", userID),
		zap.String("ticker", job.Ticker),
		zap.String("date", job.Date))
	return job, nil
}

// GetJob prefers the live in-registry copy of a running job over the durable
// row, so pollers see step transitions as they happen.
func (s *AnalysisService) GetJob(ctx context.Context, id, userID string) (models.AnalysisJob, error) {
	if job, ok := s.registry.Get(id); ok {
		if job.UserID != userID {
			return models.AnalysisJob{}, ErrNotFound
		}
		return job, nil
	}
	return s.store.GetJob(ctx, id, userID)
}

// ListJobs returns the user's job summaries, newest first.
func (s *AnalysisService) ListJobs(ctx context.Context, userID string) ([]models.JobSummary, error) {
	return s.store.ListJobs(ctx, userID)
}

func (s *AnalysisService) normalize(req models.AnalysisRequest) (models.AnalysisRequest, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Ticker == "" {
		return req, fmt.Errorf("%w: ticker is required", ErrInvalidRequest)
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return req, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	if len(req.Analysts) == 0 {
		req.Analysts = append([]models.AnalystType(nil), models.AllAnalysts...)
	}
	for _, a := range req.Analysts {
		if !a.Valid() {
			return req, fmt.Errorf("%w: unknown analyst %q", ErrInvalidRequest, a)
		}
	}
	if req.MaxDebateRounds < 1 {
		req.MaxDebateRounds = s.opts.DefaultDebateRounds
	}
	if req.MaxRiskDiscussRounds < 1 {
		req.MaxRiskDiscussRounds = s.opts.DefaultRiskRounds
	}
	if req.Provider == "" {
		req.Provider = s.opts.DefaultProvider
	}
	return req, nil
}
