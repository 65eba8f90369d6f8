// Package ledger coordinates the credit side-channel of the job lifecycle:
// one debit when a job is created, at most one compensating refund if it
// fails. Both legs are idempotent per job, so a crashed-and-retried
// compensation never double-applies.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/store"
	"trading-analysis-service/internal/telemetry"
)

// ErrInsufficientCredits signals that a debit was rejected before anything
// was written.
var ErrInsufficientCredits = store.ErrInsufficientCredits

// Store is the durable ledger collaborator.
type Store interface {
	Debit(ctx context.Context, userID, jobID string, amount int) error
	Refund(ctx context.Context, userID, jobID string, amount int) error
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// Coordinator applies the fixed per-analysis cost against user balances.
type Coordinator struct {
	store Store
	cost  int
	log   *zap.Logger
}

// New builds a coordinator charging cost credits per analysis.
func New(st Store, cost int, log *zap.Logger) *Coordinator {
	return &Coordinator{store: st, cost: cost, log: log}
}

// Cost reports the per-analysis charge.
func (c *Coordinator) Cost() int {
	return c.cost
}

// Debit charges a user for a job. Insufficient balance rejects the charge
// with ErrInsufficientCredits and leaves no trace.
func (c *Coordinator) Debit(ctx context.Context, userID, jobID string) error {
	err := c.store.Debit(ctx, userID, jobID, c.cost)
	if errors.Is(err, store.ErrInsufficientCredits) {
		return ErrInsufficientCredits
	}
	if err != nil {
		return fmt.Errorf("debit user %s for job %s: %w", userID, jobID, err)
	}
	c.log.Info("credits debited", zap.String("user_id", userID), zap.String("job_id", jobID), zap.Int("amount", c.cost))
	return nil
}

// Refund returns the charge for a failed job. Retrying after a partial
// failure is safe; the store drops duplicate (job, reason) pairs.
func (c *Coordinator) Refund(ctx context.Context, userID, jobID string) error {
	if err := c.store.Refund(ctx, userID, jobID, c.cost); err != nil {
		return fmt.Errorf("refund user %s for job %s: %w", userID, jobID, err)
	}
	telemetry.RefundsIssued.Inc()
	c.log.Info("credits refunded", zap.String("user_id", userID), zap.String("job_id", jobID), zap.Int("amount", c.cost))
	return nil
}

// History returns a user's most recent ledger entries, newest first.
func (c *Coordinator) History(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return c.store.ListLedgerEntries(ctx, userID, 50)
}
