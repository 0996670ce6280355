package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
	runnerUsecase "github.com/pace-noge/defense-probe/internal/runner/usecase"
)

type contextKey string

const operatorKey contextKey = "operator"

// SubmitRunRequest is the body of POST /api/runs.
type SubmitRunRequest struct {
	Plan          *domain.Plan     `json:"plan"`
	Domains       []string         `json:"domains"`
	DomainMapping map[int][]string `json:"domainMapping,omitempty"`
}

// HTTPHandler serves the run API.
type HTTPHandler struct {
	Router  *mux.Router
	api     *mux.Router
	usecase *runnerUsecase.RunnerUsecase
	results domain.TestResultRepository // optional
	cors    func(http.Handler) http.Handler
}

// NewHTTPHandler creates a new HTTPHandler instance. metrics may be nil.
func NewHTTPHandler(uc *runnerUsecase.RunnerUsecase, results domain.TestResultRepository, metrics http.Handler, allowedOrigins []string) *HTTPHandler {
	h := &HTTPHandler{
		usecase: uc,
		results: results,
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	h.cors = cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods("GET")
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}

	// API routes (protected by auth middleware)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.authMiddleware)
	api.HandleFunc("/runs", h.submitRun).Methods("POST")
	api.HandleFunc("/runs", h.listRuns).Methods("GET")
	api.HandleFunc("/runs/{runId}", h.getRun).Methods("GET")
	api.HandleFunc("/runs/{runId}/timeline", h.getTimeline).Methods("GET")
	api.HandleFunc("/tests/run", h.runTest).Methods("POST")
	api.HandleFunc("/results/{testId}", h.getResult).Methods("GET")
	api.HandleFunc("/domains/{domain}/results", h.getDomainResults).Methods("GET")
	api.HandleFunc("/domains/{domain}/results", h.deleteDomainResults).Methods("DELETE")

	h.Router = r
	h.api = api
	return h
}

// Handler wraps the router with CORS, preflight requests included.
func (h *HTTPHandler) Handler() http.Handler {
	return h.cors(h.Router)
}

// API returns the authenticated /api subrouter for additional handlers.
func (h *HTTPHandler) API() *mux.Router {
	return h.api
}

// RegisterWebSocketHandler registers the live event stream.
func (h *HTTPHandler) RegisterWebSocketHandler(wsHandler func(http.ResponseWriter, *http.Request)) {
	h.Router.HandleFunc("/ws", wsHandler).Methods("GET")
}

// authMiddleware validates JWT tokens.
func (h *HTTPHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid token format: Bearer token required", http.StatusUnauthorized)
			return
		}

		operator, err := auth.ValidateJWT(tokenString)
		if err != nil {
			log.Printf("JWT validation failed: %v", err)
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *HTTPHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitRun queues a plan run and answers 202 with its id.
func (h *HTTPHandler) submitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Plan == nil || len(req.Plan.Tests) == 0 {
		http.Error(w, "Plan with at least one test is required", http.StatusBadRequest)
		return
	}

	run, err := h.usecase.Submit(req.Plan, req.Domains, req.DomainMapping)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to submit run: %v", err), http.StatusInternalServerError)
		return
	}
	operator, _ := r.Context().Value(operatorKey).(string)
	log.Printf("Run %s submitted by %s", run.ID, operator)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": run.ID, "name": run.PlanName, "message": "Run submitted successfully"})
}

func (h *HTTPHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.usecase.ListRuns(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list runs: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *HTTPHandler) getRun(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	run, err := h.usecase.GetRun(r.Context(), runID)
	if err != nil {
		writeLookupError(w, "run", runID, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// getTimeline serves the run's plain-text timeline.
func (h *HTTPHandler) getTimeline(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]
	text, err := h.usecase.Timeline(runID)
	if err != nil {
		writeLookupError(w, "run", runID, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(text))
}

// runTest executes one configuration synchronously.
func (h *HTTPHandler) runTest(w http.ResponseWriter, r *http.Request) {
	var cfg domain.TestConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	result, err := h.usecase.RunTest(r.Context(), &cfg)
	if domain.IsConfigError(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to run test: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) getResult(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "Result store not configured", http.StatusServiceUnavailable)
		return
	}
	testID := mux.Vars(r)["testId"]
	result, err := h.results.GetResultByTestID(r.Context(), testID)
	if err != nil {
		writeLookupError(w, "result", testID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) getDomainResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "Result store not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	results, err := h.results.GetResultsByDomain(r.Context(), mux.Vars(r)["domain"], limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get results: %v", err), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []*domain.TestResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *HTTPHandler) deleteDomainResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		http.Error(w, "Result store not configured", http.StatusServiceUnavailable)
		return
	}
	d := mux.Vars(r)["domain"]
	if err := h.results.DeleteResultsByDomain(r.Context(), d); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete results: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeLookupError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, fmt.Sprintf("%s %s not found", what, id), http.StatusNotFound)
		return
	}
	http.Error(w, fmt.Sprintf("Failed to get %s: %v", what, err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
