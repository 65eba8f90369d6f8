package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trading-analysis-service/internal/models"
)

// SimEngine is a deterministic stand-in for the real computation graph. It
// replays the canonical snapshot progression (one analyst report at a time,
// then the debates, then the terminal decision) so the rest of the service
// can be exercised without LLM credentials.
type SimEngine struct {
	// StepDelay is slept between emissions, mainly so polling clients see
	// intermediate progress during local development. Zero means no delay.
	StepDelay time.Duration

	// FailAfter, when non-empty, aborts the stream with an error right after
	// the snapshot that introduced the named field. Used to exercise the
	// failure/refund path.
	FailAfter string
}

func (e *SimEngine) CreateInitialState(ticker, date string) Snapshot {
	return Snapshot{Ticker: ticker, Date: date}
}

func (e *SimEngine) Stream(ctx context.Context, initial Snapshot, opts RunOptions) (<-chan Snapshot, <-chan error) {
	snaps := make(chan Snapshot)
	errc := make(chan error, 1)

	go func() {
		defer close(snaps)
		errc <- e.run(ctx, initial, opts, snaps)
	}()

	return snaps, errc
}

func (e *SimEngine) run(ctx context.Context, initial Snapshot, opts RunOptions, snaps chan<- Snapshot) error {
	state := initial
	// Provider selection patches which models the graph would run against.
	// The simulation stamps them into its output so the resolved config is
	// visible in every produced report.
	patch := Defaults(opts.Provider)
	emit := func(field string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.StepDelay > 0 {
			select {
			case <-time.After(e.StepDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		select {
		case snaps <- state.clone():
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.FailAfter != "" && e.FailAfter == field {
			return fmt.Errorf("simulated pipeline failure after %s", field)
		}
		return nil
	}

	for _, a := range opts.Analysts {
		switch a {
		case models.AnalystMarket:
			state.MarketReport = report("Market analysis", state.Ticker, state.Date, patch.QuickThinkModel)
		case models.AnalystSocial:
			state.SentimentReport = report("Social sentiment analysis", state.Ticker, state.Date, patch.QuickThinkModel)
		case models.AnalystNews:
			state.NewsReport = report("News analysis", state.Ticker, state.Date, patch.QuickThinkModel)
		case models.AnalystFundamentals:
			state.FundamentalsReport = report("Fundamentals analysis", state.Ticker, state.Date, patch.QuickThinkModel)
		default:
			continue
		}
		if err := emit(string(a) + "_report"); err != nil {
			return err
		}
	}

	rounds := opts.MaxDebateRounds
	if rounds < 1 {
		rounds = 1
	}
	debate := &DebateState{}
	state.InvestDebate = debate
	for i := 1; i <= rounds; i++ {
		bull := fmt.Sprintf("Bull (round %d): momentum and growth support %s.", i, state.Ticker)
		bear := fmt.Sprintf("Bear (round %d): valuation and macro risk weigh on %s.", i, state.Ticker)
		debate.Rounds = i
		debate.BullHistory = join(debate.BullHistory, bull)
		debate.BearHistory = join(debate.BearHistory, bear)
		debate.History = join(debate.History, bull, bear)
		debate.CurrentResponse = bear
		if err := emit(fmt.Sprintf("invest_debate_round_%d", i)); err != nil {
			return err
		}
	}
	debate.JudgeDecision = fmt.Sprintf("The bull case for %s is stronger on balance.", state.Ticker)
	state.InvestmentPlan = report("Investment plan", state.Ticker, state.Date, patch.DeepThinkModel)
	if err := emit("judge_decision"); err != nil {
		return err
	}

	state.TraderPlan = report("Trader execution plan", state.Ticker, state.Date, patch.DeepThinkModel)
	if err := emit("trader_investment_plan"); err != nil {
		return err
	}

	riskRounds := opts.MaxRiskDiscussRounds
	if riskRounds < 1 {
		riskRounds = 1
	}
	risk := &DebateState{}
	state.RiskDebate = risk
	for i := 1; i <= riskRounds; i++ {
		risky := fmt.Sprintf("Risky (round %d): size up, the setup favors %s.", i, state.Ticker)
		safe := fmt.Sprintf("Safe (round %d): cap exposure, protect the downside.", i)
		neutral := fmt.Sprintf("Neutral (round %d): a staged entry balances both.", i)
		risk.Rounds = i
		risk.RiskyHistory = join(risk.RiskyHistory, risky)
		risk.SafeHistory = join(risk.SafeHistory, safe)
		risk.NeutralHistory = join(risk.NeutralHistory, neutral)
		risk.History = join(risk.History, risky, safe, neutral)
		risk.CurrentResponse = neutral
		if err := emit(fmt.Sprintf("risk_debate_round_%d", i)); err != nil {
			return err
		}
	}
	risk.JudgeDecision = fmt.Sprintf("Approve a moderate position in %s.", state.Ticker)
	state.FinalDecision = fmt.Sprintf("BUY %s with a staged entry and a trailing stop.%s", state.Ticker, modelTag(patch.DeepThinkModel))
	return emit("final_trade_decision")
}

func (e *SimEngine) ExtractSignal(_ context.Context, final Snapshot) (string, error) {
	decision := strings.ToUpper(final.FinalDecision)
	for _, sig := range []string{"BUY", "SELL", "HOLD"} {
		if strings.Contains(decision, sig) {
			return sig, nil
		}
	}
	return "HOLD", nil
}

func report(kind, ticker, date, model string) string {
	return fmt.Sprintf("## %s\n\n%s as of %s: no anomalies detected, trend intact.%s", kind, ticker, date, modelTag(model))
}

// modelTag annotates simulated output with the model a real run would use.
// An unknown provider resolves to an empty patch and leaves output untagged.
func modelTag(model string) string {
	if model == "" {
		return ""
	}
	return fmt.Sprintf(" (model: %s)", model)
}

func join(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}
