package models

import (
	"time"
)

// AnalystType enumerates the analysis facets a client may request.
type AnalystType string

const (
	AnalystMarket       AnalystType = "market"
	AnalystSocial       AnalystType = "social"
	AnalystNews         AnalystType = "news"
	AnalystFundamentals AnalystType = "fundamentals"
)

// AllAnalysts is the default facet selection, in canonical order.
var AllAnalysts = []AnalystType{AnalystMarket, AnalystSocial, AnalystNews, AnalystFundamentals}

// Valid reports whether t is a known analyst type.
func (t AnalystType) Valid() bool {
	switch t {
	case AnalystMarket, AnalystSocial, AnalystNews, AnalystFundamentals:
		return true
	}
	return false
}

// JobStatus enumerates analysis job lifecycle states.
// Transitions are monotonic: pending -> running -> completed|failed.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// StepStatus enumerates progress step states.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
)

// ProgressStep is one client-facing unit of pipeline work. Steps live in a
// fixed per-job order and are only ever replaced wholesale (copy-on-write),
// never mutated in place.
type ProgressStep struct {
	Key     string     `json:"key"`
	Label   string     `json:"label"`
	Status  StepStatus `json:"status"`
	Content string     `json:"content,omitempty"`
}

// AnalysisRequest is the client submission shape.
type AnalysisRequest struct {
	Ticker               string        `json:"ticker"`
	Date                 string        `json:"date"` // YYYY-MM-DD
	Analysts             []AnalystType `json:"analysts"`
	MaxDebateRounds      int           `json:"max_debate_rounds"`
	MaxRiskDiscussRounds int           `json:"max_risk_discuss_rounds"`
	Provider             string        `json:"provider,omitempty"`
}

// InvestDebateResult holds the bull/bear research debate outcome.
type InvestDebateResult struct {
	BullHistory     string `json:"bull_history"`
	BearHistory     string `json:"bear_history"`
	History         string `json:"history"`
	CurrentResponse string `json:"current_response"`
	JudgeDecision   string `json:"judge_decision"`
}

// RiskDebateResult holds the risk management debate outcome.
type RiskDebateResult struct {
	RiskyHistory   string `json:"risky_history"`
	SafeHistory    string `json:"safe_history"`
	NeutralHistory string `json:"neutral_history"`
	History        string `json:"history"`
	JudgeDecision  string `json:"judge_decision"`
}

// AnalysisResult is the structured output extracted from the pipeline's
// final state.
type AnalysisResult struct {
	MarketReport         string             `json:"market_report"`
	SentimentReport      string             `json:"sentiment_report"`
	NewsReport           string             `json:"news_report"`
	FundamentalsReport   string             `json:"fundamentals_report"`
	InvestmentDebate     InvestDebateResult `json:"investment_debate"`
	InvestmentPlan       string             `json:"investment_plan"`
	TraderInvestmentPlan string             `json:"trader_investment_plan"`
	RiskDebate           RiskDebateResult   `json:"risk_debate"`
	FinalTradeDecision   string             `json:"final_trade_decision"`
	Signal               string             `json:"signal"` // BUY / SELL / HOLD
}

// AnalysisJob is the full job record. While the job is running the
// authoritative copy lives in the in-process registry; the Postgres row is
// reconciled at phase boundaries (create, start, terminal).
type AnalysisJob struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"-"`
	Status               JobStatus       `json:"status"`
	Ticker               string          `json:"ticker"`
	Date                 string          `json:"date"`
	Analysts             []AnalystType   `json:"analysts"`
	MaxDebateRounds      int             `json:"max_debate_rounds"`
	MaxRiskDiscussRounds int             `json:"max_risk_discuss_rounds"`
	Provider             string          `json:"provider,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Result               *AnalysisResult `json:"result,omitempty"`
	Error                *string         `json:"error,omitempty"`
	Progress             []ProgressStep  `json:"progress,omitempty"`
}

// JobSummary is the list-view projection: no result payload, no progress.
type JobSummary struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Ticker      string        `json:"ticker"`
	Date        string        `json:"date"`
	Analysts    []AnalystType `json:"analysts"`
	Signal      *string       `json:"signal,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       *string       `json:"error,omitempty"`
}

// Summary projects a job into its list view.
func (j *AnalysisJob) Summary() JobSummary {
	s := JobSummary{
		ID:          j.ID,
		Status:      j.Status,
		Ticker:      j.Ticker,
		Date:        j.Date,
		Analysts:    j.Analysts,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
	}
	if j.Result != nil && j.Result.Signal != "" {
		sig := j.Result.Signal
		s.Signal = &sig
	}
	return s
}

// LedgerEntry is one append-only signed credit movement.
type LedgerEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	JobID     *string   `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger reason tags. At most one entry per (job, reason) pair is ever
// written; the store enforces this with a unique constraint.
const (
	ReasonAnalysis = "analysis"
	ReasonRefund   = "refund"
)

// Profile is the owning-user record carrying the credit balance.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	Plan        string    `json:"plan"`
	Credits     int       `json:"credits"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
