// Package plan builds the ordered, client-facing step list for an analysis
// job from its requested facets. The plan is fixed at execution start and
// never changes shape afterwards.
package plan

import (
	"trading-analysis-service/internal/models"
)

// Step keys, in plan order. Analyst steps appear only when their facet is
// selected; the tail steps always run.
const (
	StepMarketAnalyst       = "market_analyst"
	StepSocialAnalyst       = "social_analyst"
	StepNewsAnalyst         = "news_analyst"
	StepFundamentalsAnalyst = "fundamentals_analyst"
	StepInvestDebate        = "invest_debate"
	StepResearchManager     = "research_manager"
	StepTrader              = "trader"
	StepRiskDebate          = "risk_debate"
	StepFinalDecision       = "final_decision"
)

type stepDef struct {
	key   string
	label string
}

var analystSteps = map[models.AnalystType]stepDef{
	models.AnalystMarket:       {StepMarketAnalyst, "Market Analyst"},
	models.AnalystSocial:       {StepSocialAnalyst, "Social Sentiment Analyst"},
	models.AnalystNews:         {StepNewsAnalyst, "News Analyst"},
	models.AnalystFundamentals: {StepFundamentalsAnalyst, "Fundamentals Analyst"},
}

var tailSteps = []stepDef{
	{StepInvestDebate, "Bull/Bear Research Debate"},
	{StepResearchManager, "Research Manager Decision"},
	{StepTrader, "Trader Decision"},
	{StepRiskDebate, "Risk Management Debate"},
	{StepFinalDecision, "Final Trade Decision"},
}

// Build returns the ProgressStep list for the given facet selection: one step
// per selected facet in request order, then the fixed tail, all pending.
// Unknown or duplicate facets are skipped.
func Build(analysts []models.AnalystType) []models.ProgressStep {
	steps := make([]models.ProgressStep, 0, len(analysts)+len(tailSteps))
	seen := make(map[models.AnalystType]bool, len(analysts))
	for _, a := range analysts {
		def, ok := analystSteps[a]
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		steps = append(steps, models.ProgressStep{Key: def.key, Label: def.label, Status: models.StepPending})
	}
	for _, def := range tailSteps {
		steps = append(steps, models.ProgressStep{Key: def.key, Label: def.label, Status: models.StepPending})
	}
	return steps
}
