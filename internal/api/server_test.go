package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"trading-analysis-service/internal/config"
	"trading-analysis-service/internal/models"
	"trading-analysis-service/internal/service"
	"trading-analysis-service/internal/store"
)

type fakeAnalyses struct {
	mu        sync.Mutex
	createErr error
	getErr    error
	job       models.AnalysisJob
	runCalls  int
	runDone   chan struct{}
}

func (f *fakeAnalyses) CreateJob(_ context.Context, req models.AnalysisRequest, userID string) (models.AnalysisJob, error) {
	if f.createErr != nil {
		return models.AnalysisJob{}, f.createErr
	}
	f.job.UserID = userID
	f.job.Ticker = strings.ToUpper(req.Ticker)
	return f.job, nil
}

func (f *fakeAnalyses) RunAnalysis(context.Context, string, string) {
	f.mu.Lock()
	f.runCalls++
	f.mu.Unlock()
	if f.runDone != nil {
		close(f.runDone)
	}
}

func (f *fakeAnalyses) GetJob(_ context.Context, id, _ string) (models.AnalysisJob, error) {
	if f.getErr != nil {
		return models.AnalysisJob{}, f.getErr
	}
	job := f.job
	job.ID = id
	return job, nil
}

func (f *fakeAnalyses) ListJobs(context.Context, string) ([]models.JobSummary, error) {
	return nil, nil
}

type fakeProfiles struct {
	profile models.Profile
}

func (f *fakeProfiles) GetOrCreateProfile(_ context.Context, userID string, credits int) (models.Profile, error) {
	p := f.profile
	p.ID = userID
	if p.Credits == 0 {
		p.Credits = credits
	}
	return p, nil
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, userID string, upd store.ProfileUpdate) (models.Profile, error) {
	p := f.profile
	p.ID = userID
	if upd.DisplayName != nil {
		p.DisplayName = *upd.DisplayName
	}
	return p, nil
}

type fakeCredits struct{}

func (fakeCredits) History(context.Context, string) ([]models.LedgerEntry, error) {
	return nil, nil
}

func newTestServer(analyses *fakeAnalyses) *Server {
	return New(config.Config{InitialCredits: 100}, analyses, &fakeProfiles{}, fakeCredits{}, nil, context.Background(), zap.NewNop())
}

func doRequest(t *testing.T, h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartAnalysisAccepted(t *testing.T) {
	fa := &fakeAnalyses{job: models.AnalysisJob{ID: "job-1", Status: models.StatusPending}, runDone: make(chan struct{})}
	router := newTestServer(fa).Router()

	rec := doRequest(t, router, http.MethodPost, "/api/analysis", "u1",
		`{"ticker":"nvda","date":"2025-06-02"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body)
	}

	var job models.AnalysisJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || job.Ticker != "NVDA" {
		t.Errorf("job = %+v", job)
	}

	<-fa.runDone
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if fa.runCalls != 1 {
		t.Errorf("runCalls = %d, want 1", fa.runCalls)
	}
}

func TestStartAnalysisRejectsBadJSON(t *testing.T) {
	router := newTestServer(&fakeAnalyses{}).Router()
	rec := doRequest(t, router, http.MethodPost, "/api/analysis", "u1", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMissingUserHeader(t *testing.T) {
	router := newTestServer(&fakeAnalyses{}).Router()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/analysis"},
		{http.MethodGet, "/api/analysis"},
		{http.MethodGet, "/api/analysis/abc"},
		{http.MethodGet, "/api/profile"},
		{http.MethodGet, "/api/profile/credits"},
	} {
		rec := doRequest(t, router, tc.method, tc.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want 401", tc.method, tc.path, rec.Code)
		}
	}
}

func TestServiceErrorMapping(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"validation":           {service.ErrInvalidRequest, http.StatusBadRequest},
		"insufficient credits": {store.ErrInsufficientCredits, http.StatusPaymentRequired},
		"unknown":              {context.DeadlineExceeded, http.StatusInternalServerError},
	} {
		fa := &fakeAnalyses{createErr: tc.err}
		router := newTestServer(fa).Router()
		rec := doRequest(t, router, http.MethodPost, "/api/analysis", "u1",
			`{"ticker":"nvda","date":"2025-06-02"}`)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, tc.want)
		}
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	fa := &fakeAnalyses{getErr: service.ErrNotFound}
	router := newTestServer(fa).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/analysis/nope", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListAnalysesEmptyIsArray(t *testing.T) {
	router := newTestServer(&fakeAnalyses{}).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/analysis", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty array", got)
	}
}

func TestProfileLifecycle(t *testing.T) {
	router := newTestServer(&fakeAnalyses{}).Router()

	rec := doRequest(t, router, http.MethodGet, "/api/profile", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get profile status = %d", rec.Code)
	}
	var p models.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != "u1" || p.Credits != 100 {
		t.Errorf("profile = %+v, want seeded credits", p)
	}

	rec = doRequest(t, router, http.MethodPatch, "/api/profile", "u1", `{"display_name":"Chris"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.DisplayName != "Chris" {
		t.Errorf("display name = %q", p.DisplayName)
	}

	rec = doRequest(t, router, http.MethodPatch, "/api/profile", "u1", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestServer(&fakeAnalyses{}).Router()
	rec := doRequest(t, router, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
