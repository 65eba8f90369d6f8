package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-analysis-service/internal/models"
)

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("not found")

// ErrInsufficientCredits is returned when a debit would take a balance
// negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Store wraps pgxpool for Postgres persistence of jobs, profiles, and the
// credit ledger.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertJob persists the initial row for a freshly created job.
func (s *Store) InsertJob(ctx context.Context, job models.AnalysisJob) error {
	analysts, err := json.Marshal(job.Analysts)
	if err != nil {
		return fmt.Errorf("marshal analysts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs (id, user_id, ticker, date, analysts, max_debate_rounds, max_risk_discuss_rounds, provider, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, job.UserID, job.Ticker, job.Date, analysts, job.MaxDebateRounds, job.MaxRiskDiscussRounds, job.Provider, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// MarkJobRunning records the running transition along with the seeded plan.
func (s *Store) MarkJobRunning(ctx context.Context, id string, progress []models.ProgressStep) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, progress = $3 WHERE id = $1
	`, id, models.StatusRunning, progressJSON)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// MarkJobCompleted records the terminal success state: result, final
// progress, completion time.
func (s *Store) MarkJobCompleted(ctx context.Context, id string, result *models.AnalysisResult, progress []models.ProgressStep, completedAt time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, result = $3, progress = $4, completed_at = $5, error = NULL WHERE id = $1
	`, id, models.StatusCompleted, resultJSON, progressJSON, completedAt)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkJobFailed records the terminal failure state with its diagnostic.
func (s *Store) MarkJobFailed(ctx context.Context, id string, jobErr string, progress []models.ProgressStep, completedAt time.Time) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, error = $3, progress = $4, completed_at = $5 WHERE id = $1
	`, id, models.StatusFailed, jobErr, progressJSON, completedAt)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// GetJob fetches a user's job by id.
func (s *Store) GetJob(ctx context.Context, id, userID string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, ticker, date, analysts, max_debate_rounds, max_risk_discuss_rounds, provider, status, result, error, progress, created_at, completed_at
		FROM analysis_jobs WHERE id = $1 AND user_id = $2
	`, id, userID)
	return scanJob(row)
}

// ListJobs returns a user's job summaries, newest first. Result payloads are
// never loaded here; only the signal is projected out of the result column.
func (s *Store) ListJobs(ctx context.Context, userID string) ([]models.JobSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, ticker, date, analysts, result->>'signal', error, created_at, completed_at
		FROM analysis_jobs WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.JobSummary
	for rows.Next() {
		var (
			sum         models.JobSummary
			analysts    []byte
			signal      pgtype.Text
			jobErr      pgtype.Text
			completedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&sum.ID, &sum.Status, &sum.Ticker, &sum.Date, &analysts, &signal, &jobErr, &sum.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}
		if err := json.Unmarshal(analysts, &sum.Analysts); err != nil {
			return nil, fmt.Errorf("unmarshal analysts: %w", err)
		}
		if signal.Valid && signal.String != "" {
			sig := signal.String
			sum.Signal = &sig
		}
		sum.Error = textPtr(jobErr)
		if completedAt.Valid {
			t := completedAt.Time
			sum.CompletedAt = &t
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.AnalysisJob, error) {
	var (
		job          models.AnalysisJob
		analysts     []byte
		resultJSON   []byte
		progressJSON []byte
		jobErr       pgtype.Text
		completedAt  pgtype.Timestamptz
	)
	err := row.Scan(&job.ID, &job.UserID, &job.Ticker, &job.Date, &analysts, &job.MaxDebateRounds, &job.MaxRiskDiscussRounds,
		&job.Provider, &job.Status, &resultJSON, &jobErr, &progressJSON, &job.CreatedAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, ErrNotFound
	}
	if err != nil {
		return models.AnalysisJob{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(analysts, &job.Analysts); err != nil {
		return models.AnalysisJob{}, fmt.Errorf("unmarshal analysts: %w", err)
	}
	if len(resultJSON) > 0 {
		job.Result = &models.AnalysisResult{}
		if err := json.Unmarshal(resultJSON, job.Result); err != nil {
			return models.AnalysisJob{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(progressJSON) > 0 {
		if err := json.Unmarshal(progressJSON, &job.Progress); err != nil {
			return models.AnalysisJob{}, fmt.Errorf("unmarshal progress: %w", err)
		}
	}
	job.Error = textPtr(jobErr)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// Debit atomically checks the balance, decrements it, and appends the ledger
// entry in one transaction. The conditional UPDATE is the balance guard: zero
// rows affected means insufficient credits and nothing is committed. The
// unique (job_id, reason) constraint makes a retried debit for the same job a
// no-op.
func (s *Store) Debit(ctx context.Context, userID, jobID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, amount, reason, job_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (job_id, reason) DO NOTHING
	`, userID, -amount, models.ReasonAnalysis, jobID)
	if err != nil {
		return fmt.Errorf("insert debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already debited for this job; leave the balance untouched.
		return tx.Commit(ctx)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE profiles SET credits = credits - $2, updated_at = NOW()
		WHERE id = $1 AND credits >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("decrement credits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCredits
	}
	return tx.Commit(ctx)
}

// Refund appends the compensating credit and restores the balance. Safe to
// retry: the (job_id, reason) constraint swallows duplicates before the
// balance is touched.
func (s *Store) Refund(ctx context.Context, userID, jobID string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_transactions (user_id, amount, reason, job_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (job_id, reason) DO NOTHING
	`, userID, amount, models.ReasonRefund, jobID)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE profiles SET credits = credits + $2, updated_at = NOW() WHERE id = $1
	`, userID, amount); err != nil {
		return fmt.Errorf("increment credits: %w", err)
	}
	return tx.Commit(ctx)
}

// ListLedgerEntries returns a user's most recent credit movements.
func (s *Store) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, amount, reason, job_id, created_at
		FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			e     models.LedgerEntry
			jobID pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Reason, &jobID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.JobID = textPtr(jobID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetOrCreateProfile fetches a profile, provisioning it with the initial
// credit grant on first sight of a user.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string, initialCredits int) (models.Profile, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, display_name, plan, credits, language, created_at, updated_at)
		VALUES ($1, $1, 'free', $2, 'en', NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, userID, initialCredits)
	if err != nil {
		return models.Profile{}, fmt.Errorf("provision profile: %w", err)
	}
	return s.getProfile(ctx, userID)
}

func (s *Store) getProfile(ctx context.Context, userID string) (models.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, display_name, avatar_url, plan, credits, language, created_at, updated_at
		FROM profiles WHERE id = $1
	`, userID)

	var (
		p      models.Profile
		avatar pgtype.Text
	)
	err := row.Scan(&p.ID, &p.DisplayName, &avatar, &p.Plan, &p.Credits, &p.Language, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("scan profile: %w", err)
	}
	p.AvatarURL = textPtr(avatar)
	return p, nil
}

// ProfileUpdate carries the optional profile fields a PATCH may change.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
	Language    *string
}

// UpdateProfile applies the non-nil fields and returns the fresh row.
func (s *Store) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (models.Profile, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE profiles SET
			display_name = COALESCE($2, display_name),
			avatar_url   = COALESCE($3, avatar_url),
			language     = COALESCE($4, language),
			updated_at   = NOW()
		WHERE id = $1
	`, userID, upd.DisplayName, upd.AvatarURL, upd.Language)
	if err != nil {
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Profile{}, ErrNotFound
	}
	return s.getProfile(ctx, userID)
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
