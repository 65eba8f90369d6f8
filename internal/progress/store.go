package progress

import (
	"strings"

	"trading-analysis-service/internal/models"
)

// Apply returns a new step list where only the named step changed, applying
// the given transition. The input list is never mutated; callers publish the
// returned list with a single assignment so concurrent readers always observe
// a complete list. Unknown keys return the input list unchanged.
func Apply(steps []models.ProgressStep, t Transition) []models.ProgressStep {
	idx := indexOf(steps, t.Key)
	if idx < 0 {
		return steps
	}

	next := make([]models.ProgressStep, len(steps))
	copy(next, steps)
	step := &next[idx]

	switch t.Op {
	case OpRunning:
		step.Status = models.StepRunning
		if t.Content != "" {
			step.Content = t.Content
		}
	case OpDone:
		step.Status = models.StepDone
		step.Content = t.Content
	case OpAppend:
		step.Content = appendContent(step.Content, t.Content)
	}
	return next
}

// MarkNextRunning returns a new list with the first pending step after
// afterKey set running. When afterKey is unknown or no pending step follows
// it, the input list is returned unchanged.
func MarkNextRunning(steps []models.ProgressStep, afterKey string) []models.ProgressStep {
	idx := indexOf(steps, afterKey)
	if idx < 0 {
		return steps
	}
	for i := idx + 1; i < len(steps); i++ {
		if steps[i].Status == models.StepPending {
			return Apply(steps, Transition{Key: steps[i].Key, Op: OpRunning})
		}
	}
	return steps
}

// MarkFirstRunning returns a new list with the first pending step set
// running. Used once, when the plan is seeded at execution start.
func MarkFirstRunning(steps []models.ProgressStep) []models.ProgressStep {
	for _, s := range steps {
		if s.Status == models.StepPending {
			return Apply(steps, Transition{Key: s.Key, Op: OpRunning})
		}
	}
	return steps
}

func indexOf(steps []models.ProgressStep, key string) int {
	for i, s := range steps {
		if s.Key == key {
			return i
		}
	}
	return -1
}

func appendContent(existing, addition string) string {
	if existing == "" {
		return addition
	}
	if addition == "" {
		return existing
	}
	return existing + "\n\n" + strings.TrimSpace(addition)
}
