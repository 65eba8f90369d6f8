package progress

import (
	"reflect"
	"testing"

	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/plan"
)

func TestApplyIsCopyOnWrite(t *testing.T) {
	steps := plan.Build([]models.AnalystType{models.AnalystMarket})
	snapshot := make([]models.ProgressStep, len(steps))
	copy(snapshot, steps)

	next := Apply(steps, Transition{Key: plan.StepMarketAnalyst, Op: OpDone, Content: "X"})

	if !reflect.DeepEqual(steps, snapshot) {
		t.Error("input list was mutated")
	}
	if &next[0] == &steps[0] {
		t.Error("Apply returned the same backing array")
	}
	for i, s := range next {
		if s.Key == plan.StepMarketAnalyst {
			if s.Status != models.StepDone || s.Content != "X" {
				t.Errorf("changed step = %+v", s)
			}
			continue
		}
		if !reflect.DeepEqual(s, steps[i]) {
			t.Errorf("untouched step %s changed: %+v", s.Key, s)
		}
	}
}

func TestApplyUnknownKeyIsNoop(t *testing.T) {
	steps := plan.Build(nil)
	next := Apply(steps, Transition{Key: "nope", Op: OpDone})
	if !reflect.DeepEqual(next, steps) {
		t.Error("unknown key should leave the list unchanged")
	}
}

func TestApplyRunningKeepsContentWhenEmpty(t *testing.T) {
	steps := []models.ProgressStep{{Key: "a", Status: models.StepRunning, Content: "kept"}}
	next := Apply(steps, Transition{Key: "a", Op: OpRunning})
	if next[0].Content != "kept" {
		t.Errorf("content = %q, want kept", next[0].Content)
	}
}

func TestMarkNextRunning(t *testing.T) {
	steps := plan.Build([]models.AnalystType{models.AnalystMarket, models.AnalystNews})
	steps = Apply(steps, Transition{Key: plan.StepMarketAnalyst, Op: OpDone})

	next := MarkNextRunning(steps, plan.StepMarketAnalyst)
	if next[1].Key != plan.StepNewsAnalyst || next[1].Status != models.StepRunning {
		t.Errorf("next step = %+v, want news_analyst running", next[1])
	}

	// Unknown key and fully-advanced lists are no-ops.
	if got := MarkNextRunning(steps, "nope"); !reflect.DeepEqual(got, steps) {
		t.Error("unknown afterKey should be a no-op")
	}
	allDone := steps
	for _, s := range steps {
		allDone = Apply(allDone, Transition{Key: s.Key, Op: OpDone})
	}
	if got := MarkNextRunning(allDone, plan.StepMarketAnalyst); !reflect.DeepEqual(got, allDone) {
		t.Error("no pending successor should be a no-op")
	}
}

func TestMarkFirstRunning(t *testing.T) {
	steps := plan.Build([]models.AnalystType{models.AnalystMarket})
	next := MarkFirstRunning(steps)
	if next[0].Status != models.StepRunning {
		t.Errorf("first step = %+v, want running", next[0])
	}
	if steps[0].Status != models.StepPending {
		t.Error("input list was mutated")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	job := models.AnalysisJob{ID: "j1", UserID: "u1", Status: models.StatusRunning}

	if _, ok := reg.Get("j1"); ok {
		t.Fatal("empty registry returned a job")
	}
	reg.Publish(job)
	got, ok := reg.Get("j1")
	if !ok || got.UserID != "u1" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	job.Status = models.StatusCompleted
	reg.Publish(job)
	if got, _ := reg.Get("j1"); got.Status != models.StatusCompleted {
		t.Errorf("republish not visible, status = %s", got.Status)
	}

	reg.Remove("j1")
	if _, ok := reg.Get("j1"); ok {
		t.Error("job still present after Remove")
	}
	if reg.Len() != 0 {
		t.Errorf("len = %d, want 0", reg.Len())
	}
}
