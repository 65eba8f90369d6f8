package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trading-analysis-service/internal/config"
	"trading-analysis-service/internal/models"
)

func completedJob() models.AnalysisJob {
	done := time.Date(2025, 6, 2, 15, 4, 5, 0, time.UTC)
	return models.AnalysisJob{
		ID:          "job-123",
		Ticker:      "NVDA",
		Date:        "2025-06-02",
		Status:      models.StatusCompleted,
		CompletedAt: &done,
		Result:      &models.AnalysisResult{Signal: "BUY", FinalTradeDecision: "BUY NVDA"},
	}
}

func TestArchiveWritesLocalDocument(t *testing.T) {
	dir := t.TempDir()
	a, err := New(context.Background(), config.Config{ArchiveDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if a == nil {
		t.Fatal("expected local archiver")
	}

	job := completedJob()
	if err := a.Archive(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	body, err := os.ReadFile(filepath.Join(dir, "job-123.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc archiveDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.JobID != job.ID || doc.Ticker != "NVDA" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Result == nil || doc.Result.Signal != "BUY" {
		t.Errorf("result = %+v, want BUY signal", doc.Result)
	}
}

func TestArchiveNilReceiverAndNilResult(t *testing.T) {
	var a *Archiver
	if err := a.Archive(context.Background(), completedJob()); err != nil {
		t.Errorf("nil archiver err = %v", err)
	}

	dir := t.TempDir()
	a, err := New(context.Background(), config.Config{ArchiveDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	job := completedJob()
	job.Result = nil
	if err := a.Archive(context.Background(), job); err != nil {
		t.Errorf("nil result err = %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("wrote %d files for resultless job", len(entries))
	}
}

func TestNewDisabledWithoutTargets(t *testing.T) {
	a, err := New(context.Background(), config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Error("expected archiving disabled with no bucket and no dir")
	}
}

func TestSanitizeKey(t *testing.T) {
	if got := sanitizeKey("a/b/../c"); got == "a/b/../c" {
		t.Errorf("sanitizeKey left traversal intact: %q", got)
	}
}
