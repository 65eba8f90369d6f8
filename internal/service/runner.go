package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/pipeline"
	"trading-analysis-service/internal/plan"
	"trading-analysis-service/internal/progress"
	"trading-analysis-service/internal/telemetry"
)

// RunAnalysis is the sole background-execution entry point, invoked exactly
// once per created job on its own goroutine. It is the outer error boundary:
// every pipeline or extraction error ends up in the job's error field, a
// refund is issued, and nothing propagates to the scheduler. Run with a
// context that outlives the creating request.
func (s *AnalysisService) RunAnalysis(ctx context.Context, jobID, userID string) {
	job, err := s.store.GetJob(ctx, jobID, userID)
	if err != nil {
		s.log.Error("load job for execution", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != models.StatusPending {
		s.log.Warn("job not pending, refusing to execute",
			zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return
	}

	steps := plan.Build(job.Analysts)
	steps = progress.MarkFirstRunning(steps)
	job.Status = models.StatusRunning
	job.Progress = steps
	s.registry.Publish(job)

	telemetry.AnalysesStarted.Inc()
	telemetry.RunningGauge.Inc()
	defer telemetry.RunningGauge.Dec()

	// A failed start-boundary write is a persistence failure, not a pipeline
	// failure: execution continues and the live copy keeps serving polls.
	if err := s.store.MarkJobRunning(ctx, job.ID, job.Progress); err != nil {
		s.log.Error("persist running transition", zap.String("job_id", job.ID), zap.Error(err))
	}

	s.log.Info("analysis started", zap.String("job_id", job.ID), zap.String("ticker", job.Ticker))
	result, runErr := s.runPipeline(ctx, &job)

	now := time.Now().UTC()
	job.CompletedAt = &now

	if runErr != nil {
		msg := runErr.Error()
		job.Error = &msg
		job.Status = models.StatusFailed
		telemetry.AnalysesFailed.Inc()
		s.log.Warn("analysis failed", zap.String("job_id", job.ID), zap.Error(runErr))

		// Compensation does not depend on the terminal write: Refund is
		// idempotent per job, so a failed job is refunded even when its
		// terminal transition cannot be persisted.
		if err := s.ledger.Refund(ctx, userID, job.ID); err != nil {
			s.log.Error("refund failed job", zap.String("job_id", job.ID), zap.Error(err))
		}
		if err := s.store.MarkJobFailed(ctx, job.ID, msg, job.Progress, now); err != nil {
			s.log.Error("persist failed transition", zap.String("job_id", job.ID), zap.Error(err))
			s.registry.Publish(job)
			return
		}
		s.registry.Remove(job.ID)
		return
	}

	job.Result = result
	job.Status = models.StatusCompleted
	telemetry.AnalysesCompleted.Inc()
	s.log.Info("analysis completed",
		zap.String("job_id", job.ID),
		zap.String("signal", result.Signal),
		zap.Duration("elapsed", now.Sub(job.CreatedAt)))

	if err := s.store.MarkJobCompleted(ctx, job.ID, result, job.Progress, now); err != nil {
		// Keep the live copy around so clients still see the outcome.
		s.log.Error("persist completed transition", zap.String("job_id", job.ID), zap.Error(err))
		s.registry.Publish(job)
		return
	}
	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, job); err != nil {
			s.log.Error("archive result", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	s.registry.Remove(job.ID)
}

// runPipeline drives the external computation and projects its snapshot
// stream onto the job's step list. job.Progress is republished after every
// snapshot that moved a step, and is only ever replaced, never mutated.
func (s *AnalysisService) runPipeline(ctx context.Context, job *models.AnalysisJob) (*models.AnalysisResult, error) {
	initial := s.engine.CreateInitialState(job.Ticker, job.Date)
	snaps, errc := s.engine.Stream(ctx, initial, pipeline.RunOptions{
		Analysts:             job.Analysts,
		MaxDebateRounds:      job.MaxDebateRounds,
		MaxRiskDiscussRounds: job.MaxRiskDiscussRounds,
		Provider:             pipeline.Provider(job.Provider),
	})

	prev := initial
	finalized := make(map[string]bool)
	for snap := range snaps {
		transitions, err := progress.Diff(&prev, &snap, job.Progress, finalized)
		if err != nil {
			return nil, fmt.Errorf("diff snapshots: %w", err)
		}
		for _, t := range transitions {
			job.Progress = progress.Apply(job.Progress, t)
			telemetry.StepTransitions.Inc()
		}
		if len(transitions) > 0 {
			s.registry.Publish(*job)
		}
		prev = snap
	}
	if err := <-errc; err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	signal, err := s.engine.ExtractSignal(ctx, prev)
	if err != nil {
		return nil, fmt.Errorf("extract signal: %w", err)
	}
	result := resultFromSnapshot(prev, signal)
	return &result, nil
}

// resultFromSnapshot projects the final snapshot into the structured result.
func resultFromSnapshot(final pipeline.Snapshot, signal string) models.AnalysisResult {
	result := models.AnalysisResult{
		MarketReport:         final.MarketReport,
		SentimentReport:      final.SentimentReport,
		NewsReport:           final.NewsReport,
		FundamentalsReport:   final.FundamentalsReport,
		InvestmentPlan:       final.InvestmentPlan,
		TraderInvestmentPlan: final.TraderPlan,
		FinalTradeDecision:   final.FinalDecision,
		Signal:               strings.ToUpper(strings.TrimSpace(signal)),
	}
	if d := final.InvestDebate; d != nil {
		result.InvestmentDebate = models.InvestDebateResult{
			BullHistory:     d.BullHistory,
			BearHistory:     d.BearHistory,
			History:         d.History,
			CurrentResponse: d.CurrentResponse,
			JudgeDecision:   d.JudgeDecision,
		}
	}
	if d := final.RiskDebate; d != nil {
		result.RiskDebate = models.RiskDebateResult{
			RiskyHistory:   d.RiskyHistory,
			SafeHistory:    d.SafeHistory,
			NeutralHistory: d.NeutralHistory,
			History:        d.History,
			JudgeDecision:  d.JudgeDecision,
		}
	}
	return result
}
