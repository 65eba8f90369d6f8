// Package progress converts the pipeline's opaque snapshot stream into
// step-level status transitions and maintains the copy-on-write step lists
// that make concurrent progress reads safe.
package progress

import (
	"errors"

	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/pipeline"
	"trading-analysis-service/internal/plan"
)

// Op is the kind of change a Transition asks for.
type Op int

const (
	// OpRunning marks a step running, replacing its content if non-empty.
	OpRunning Op = iota
	// OpDone finalizes a step with its content.
	OpDone
	// OpAppend appends content to an already-finalized step.
	OpAppend
)

// Transition is one step-status instruction emitted by Diff.
type Transition struct {
	Key     string
	Op      Op
	Content string
}

// ErrNilSnapshot is returned when Diff is called without a current snapshot.
var ErrNilSnapshot = errors.New("progress: nil snapshot")

// reportSteps binds each single-output step to the snapshot field it watches.
// Plan order of these keys is whatever the job's step list says; the binding
// itself is fixed.
var reportSteps = []struct {
	key   string
	field func(*pipeline.Snapshot) string
}{
	{plan.StepMarketAnalyst, func(s *pipeline.Snapshot) string { return s.MarketReport }},
	{plan.StepSocialAnalyst, func(s *pipeline.Snapshot) string { return s.SentimentReport }},
	{plan.StepNewsAnalyst, func(s *pipeline.Snapshot) string { return s.NewsReport }},
	{plan.StepFundamentalsAnalyst, func(s *pipeline.Snapshot) string { return s.FundamentalsReport }},
	{plan.StepTrader, func(s *pipeline.Snapshot) string { return s.TraderPlan }},
}

// compositeSteps binds the multi-round debate steps to their state field.
// decisionStep, when set, is a sibling step whose entire output is the
// debate's judge decision; it finalizes in the same call as the debate.
var compositeSteps = []struct {
	key          string
	state        func(*pipeline.Snapshot) *pipeline.DebateState
	decisionStep string
}{
	{plan.StepInvestDebate, func(s *pipeline.Snapshot) *pipeline.DebateState { return s.InvestDebate }, plan.StepResearchManager},
	{plan.StepRiskDebate, func(s *pipeline.Snapshot) *pipeline.DebateState { return s.RiskDebate }, ""},
}

// Diff inspects a consecutive snapshot pair and emits the step transitions it
// implies, in rule order: single-output steps, composite debate steps, the
// investment-plan content append, then the terminal decision field.
//
// steps is the job's current step list and supplies lookahead order for
// advancing the next pending step. finalized is mutated in place: every key
// this call finalizes is added, which is what makes a repeated call with the
// same pair a no-op. prev may be nil (treated as an empty snapshot); cur must
// not be.
func Diff(prev, cur *pipeline.Snapshot, steps []models.ProgressStep, finalized map[string]bool) ([]Transition, error) {
	if cur == nil {
		return nil, ErrNilSnapshot
	}
	if prev == nil {
		prev = &pipeline.Snapshot{}
	}

	var out []Transition
	done := func(key, content string) {
		finalized[key] = true
		out = append(out, Transition{Key: key, Op: OpDone, Content: content})
	}
	advance := func(afterKey string) {
		if next := nextPendingKey(steps, afterKey, finalized); next != "" {
			out = append(out, Transition{Key: next, Op: OpRunning})
		}
	}

	// Rule 1: a report field newly present finalizes its step and starts the
	// next pending one.
	for _, rs := range reportSteps {
		if finalized[rs.key] {
			continue
		}
		if v := rs.field(cur); v != "" && rs.field(prev) == "" {
			done(rs.key, v)
			advance(rs.key)
		}
	}

	// Rule 2: debate round counters re-emit Running with accumulated history;
	// the judge decision finalizes the debate (and its decision sibling).
	for _, cs := range compositeSteps {
		curState := cs.state(cur)
		if curState == nil {
			continue
		}
		prevState := cs.state(prev)
		if prevState == nil {
			prevState = &pipeline.DebateState{}
		}

		if !finalized[cs.key] && curState.Rounds > prevState.Rounds {
			if !alreadyRunningWith(steps, cs.key, curState.History) {
				out = append(out, Transition{Key: cs.key, Op: OpRunning, Content: curState.History})
			}
		}
		if curState.JudgeDecision != "" && prevState.JudgeDecision == "" && !finalized[cs.key] {
			done(cs.key, curState.History)
			last := cs.key
			if cs.decisionStep != "" {
				done(cs.decisionStep, curState.JudgeDecision)
				last = cs.decisionStep
			}
			advance(last)
		}
	}

	// Rule 3: the investment plan augments the research manager's finalized
	// content rather than forming a step of its own.
	if cur.InvestmentPlan != "" && prev.InvestmentPlan == "" && finalized[plan.StepResearchManager] {
		out = append(out, Transition{Key: plan.StepResearchManager, Op: OpAppend, Content: cur.InvestmentPlan})
	}

	// Rule 4: the terminal decision field finalizes the last step; it has no
	// successor to start.
	if !finalized[plan.StepFinalDecision] && cur.FinalDecision != "" && prev.FinalDecision == "" {
		done(plan.StepFinalDecision, cur.FinalDecision)
	}

	return out, nil
}

// nextPendingKey scans forward from afterKey for the first pending,
// not-yet-finalized step. Returns "" when there is none or afterKey is
// unknown.
func nextPendingKey(steps []models.ProgressStep, afterKey string, finalized map[string]bool) string {
	idx := -1
	for i, s := range steps {
		if s.Key == afterKey {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ""
	}
	for _, s := range steps[idx+1:] {
		if s.Status == models.StepPending && !finalized[s.Key] {
			return s.Key
		}
	}
	return ""
}

func alreadyRunningWith(steps []models.ProgressStep, key, content string) bool {
	for _, s := range steps {
		if s.Key == key {
			return s.Status == models.StepRunning && s.Content == content
		}
	}
	return false
}
