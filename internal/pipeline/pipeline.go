package pipeline

import (
	"context"

	"trading-analysis-service/internal/models"
)

// DebateState is the incremental state of a multi-round debate node.
// Fields accumulate across snapshots; an empty field means "not yet emitted".
type DebateState struct {
	Rounds          int
	History         string
	BullHistory     string
	BearHistory     string
	RiskyHistory    string
	SafeHistory     string
	NeutralHistory  string
	CurrentResponse string
	JudgeDecision   string
}

// Snapshot is one whole-state emission from the external computation graph.
// Each tracked output is an explicit optional field; "newly present" means a
// transition from zero value to non-zero between consecutive snapshots.
// Fields only ever accumulate, they are never removed by a later snapshot.
type Snapshot struct {
	Ticker             string
	Date               string
	MarketReport       string
	SentimentReport    string
	NewsReport         string
	FundamentalsReport string
	InvestDebate       *DebateState
	InvestmentPlan     string
	TraderPlan         string
	RiskDebate         *DebateState
	FinalDecision      string
}

// RunOptions tune a single pipeline invocation.
type RunOptions struct {
	Analysts             []models.AnalystType
	MaxDebateRounds      int
	MaxRiskDiscussRounds int
	Provider             Provider
}

// Engine is the external pipeline collaborator. Implementations drive an
// opaque computation and surface its state as a snapshot stream; this
// package's consumers never see step boundaries, only whole snapshots.
type Engine interface {
	// CreateInitialState produces the snapshot the stream starts from.
	CreateInitialState(ticker, date string) Snapshot

	// Stream runs the pipeline. Snapshots arrive on the first channel in
	// emission order; when it closes, exactly one value (possibly nil) is
	// readable from the error channel. The stream never restarts.
	Stream(ctx context.Context, initial Snapshot, opts RunOptions) (<-chan Snapshot, <-chan error)

	// ExtractSignal derives the BUY/SELL/HOLD signal from the final snapshot.
	ExtractSignal(ctx context.Context, final Snapshot) (string, error)
}

// Provider selects which LLM backend variant the pipeline runs against.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// ConfigPatch is the set of pipeline config overrides a provider implies.
type ConfigPatch struct {
	LLMProvider     string
	DeepThinkModel  string
	QuickThinkModel string
	BackendURL      string
}

// providerDefaults maps each provider to its config patch. Unknown providers
// resolve to an empty patch, not an error.
var providerDefaults = map[Provider]ConfigPatch{
	ProviderOpenAI: {
		LLMProvider:     "openai",
		DeepThinkModel:  "o4-mini",
		QuickThinkModel: "gpt-4o-mini",
		BackendURL:      "https://api.openai.com/v1",
	},
	ProviderAnthropic: {
		LLMProvider:     "anthropic",
		DeepThinkModel:  "claude-sonnet-4-0",
		QuickThinkModel: "claude-3-5-haiku-latest",
		BackendURL:      "https://api.anthropic.com",
	},
	ProviderGoogle: {
		LLMProvider:     "google",
		DeepThinkModel:  "gemini-2.5-pro",
		QuickThinkModel: "gemini-2.5-flash",
		BackendURL:      "https://generativelanguage.googleapis.com/v1",
	},
}

// Defaults returns the config patch for a provider.
func Defaults(p Provider) ConfigPatch {
	return providerDefaults[p]
}

// clone deep-copies a snapshot so emitted values never alias producer state.
func (s Snapshot) clone() Snapshot {
	out := s
	if s.InvestDebate != nil {
		d := *s.InvestDebate
		out.InvestDebate = &d
	}
	if s.RiskDebate != nil {
		d := *s.RiskDebate
		out.RiskDebate = &d
	}
	return out
}
