package plan

import (
	"testing"

	"trading-analysis-service/internal/models"
)

func keys(steps []models.ProgressStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Key
	}
	return out
}

func assertKeys(t *testing.T, got []models.ProgressStep, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d steps %v, want %d %v", len(got), keys(got), len(want), want)
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("step[%d] = %q, want %q", i, got[i].Key, k)
		}
	}
}

func TestBuildMarketNews(t *testing.T) {
	steps := Build([]models.AnalystType{models.AnalystMarket, models.AnalystNews})
	assertKeys(t, steps, []string{
		StepMarketAnalyst, StepNewsAnalyst,
		StepInvestDebate, StepResearchManager, StepTrader, StepRiskDebate, StepFinalDecision,
	})
	for _, s := range steps {
		if s.Status != models.StepPending {
			t.Errorf("step %s status = %s, want pending", s.Key, s.Status)
		}
		if s.Label == "" {
			t.Errorf("step %s has no label", s.Key)
		}
	}
}

func TestBuildAllAnalysts(t *testing.T) {
	steps := Build(models.AllAnalysts)
	assertKeys(t, steps, []string{
		StepMarketAnalyst, StepSocialAnalyst, StepNewsAnalyst, StepFundamentalsAnalyst,
		StepInvestDebate, StepResearchManager, StepTrader, StepRiskDebate, StepFinalDecision,
	})
}

func TestBuildNoAnalystsKeepsTail(t *testing.T) {
	steps := Build(nil)
	assertKeys(t, steps, []string{
		StepInvestDebate, StepResearchManager, StepTrader, StepRiskDebate, StepFinalDecision,
	})
}

func TestBuildPreservesRequestOrder(t *testing.T) {
	steps := Build([]models.AnalystType{models.AnalystNews, models.AnalystMarket})
	assertKeys(t, steps[:2], []string{StepNewsAnalyst, StepMarketAnalyst})
}

func TestBuildSkipsUnknownAndDuplicates(t *testing.T) {
	steps := Build([]models.AnalystType{models.AnalystMarket, "astrology", models.AnalystMarket})
	assertKeys(t, steps, []string{
		StepMarketAnalyst,
		StepInvestDebate, StepResearchManager, StepTrader, StepRiskDebate, StepFinalDecision,
	})
}
