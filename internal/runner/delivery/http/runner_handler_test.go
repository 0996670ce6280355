package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/dispatch"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
	"github.com/pace-noge/defense-probe/internal/infrastructure/runrepo"
	runnerUsecase "github.com/pace-noge/defense-probe/internal/runner/usecase"
)

type memResults struct {
	byID map[string]*domain.TestResult
}

func (m *memResults) Save(ctx context.Context, r *domain.TestResult) error {
	m.byID[r.TestID] = r
	return nil
}

func (m *memResults) GetResultByTestID(ctx context.Context, testID string) (*domain.TestResult, error) {
	r, ok := m.byID[testID]
	if !ok {
		return nil, fmt.Errorf("result %s: %w", testID, domain.ErrNotFound)
	}
	return r, nil
}

func (m *memResults) GetResultsByDomain(ctx context.Context, d string, limit int) ([]*domain.TestResult, error) {
	var out []*domain.TestResult
	for _, r := range m.byID {
		if r.Domain == d {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memResults) DeleteResultsByDomain(ctx context.Context, d string) error {
	for id, r := range m.byID {
		if r.Domain == d {
			delete(m.byID, id)
		}
	}
	return nil
}

func newTestHandler(t *testing.T) (*HTTPHandler, *memResults, string) {
	t.Helper()
	auth.SetJWTSecret("handler-test-secret")
	token, err := auth.GenerateJWT("tester", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	settings := probe.DefaultSettings()
	settings.MinInterval = time.Millisecond
	settings.PayloadDelay = 0
	settings.IterationDelay = 0
	settings.HTTP2 = false
	uc := runnerUsecase.NewRunnerUsecase(dispatch.NewDispatcher(probe.NewEnv(settings), false), runnerUsecase.Options{
		Runs:        runrepo.NewInMemoryRunRepository(),
		TestTimeout: 10 * time.Second,
	})
	t.Cleanup(uc.Close)

	results := &memResults{byID: map[string]*domain.TestResult{}}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("probe_up 1\n")) })
	return NewHTTPHandler(uc, results, metrics, nil), results, token
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	h, _, token := newTestHandler(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.Router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPublicRoutes(t *testing.T) {
	h, _, _ := newTestHandler(t)

	if rec := do(t, h.Router, "GET", "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	rec := do(t, h.Router, "GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "probe_up") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestSubmitRunAndPoll(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer target.Close()
	h, _, token := newTestHandler(t)

	if rec := do(t, h.Router, "POST", "/api/runs", token, SubmitRunRequest{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty plan status = %d", rec.Code)
	}

	req := SubmitRunRequest{
		Plan:    &domain.Plan{Name: "smoke", Tests: []domain.TestSpec{{Name: "reachable", Category: "connectivity"}}},
		Domains: []string{target.URL},
	}
	rec := do(t, h.Router, "POST", "/api/runs", token, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d body = %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	runID := accepted["runId"]
	if runID == "" {
		t.Fatal("no run id returned")
	}

	var run domain.Run
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec = do(t, h.Router, "GET", "/api/runs/"+runID, token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get run status = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
			t.Fatal(err)
		}
		if run.Status == runnerUsecase.RunCompleted || run.Status == runnerUsecase.RunFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if run.Status != runnerUsecase.RunCompleted || len(run.Results) != 1 {
		t.Fatalf("run = %+v", run)
	}

	rec = do(t, h.Router, "GET", "/api/runs/"+runID+"/timeline", token, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("timeline = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = do(t, h.Router, "GET", "/api/runs", token, nil)
	var runs []domain.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil || len(runs) != 1 {
		t.Errorf("runs = %v err = %v", runs, err)
	}
}

func TestRunTestEndpoint(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer target.Close()
	h, _, token := newTestHandler(t)

	rec := do(t, h.Router, "POST", "/api/tests/run", token, domain.TestConfiguration{TestID: "t-1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing domain status = %d", rec.Code)
	}

	rec = do(t, h.Router, "POST", "/api/tests/run", token, domain.TestConfiguration{TestID: "t-2", Domain: target.URL})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var res domain.TestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.TestID != "t-2" || res.Status != domain.StatusSuccess {
		t.Errorf("result = %+v", res)
	}
}

func TestResultLookups(t *testing.T) {
	h, results, token := newTestHandler(t)
	results.byID["t-1"] = &domain.TestResult{TestID: "t-1", Domain: "a.test", Status: domain.StatusFailed}

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"unknown run", "GET", "/api/runs/missing", http.StatusNotFound},
		{"unknown timeline", "GET", "/api/runs/missing/timeline", http.StatusNotFound},
		{"known result", "GET", "/api/results/t-1", http.StatusOK},
		{"unknown result", "GET", "/api/results/t-9", http.StatusNotFound},
		{"domain results", "GET", "/api/domains/a.test/results?limit=5", http.StatusOK},
		{"delete domain results", "DELETE", "/api/domains/a.test/results", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h.Router, tt.method, tt.path, token, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if len(results.byID) != 0 {
		t.Errorf("results left after delete: %d", len(results.byID))
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest("OPTIONS", "/api/runs", nil)
	req.Header.Set("Origin", "https://dashboard.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Errorf("no CORS headers on preflight: %v", rec.Header())
	}
}
