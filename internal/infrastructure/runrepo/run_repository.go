package runrepo

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// InMemoryRunRepository implements domain.RunRepository with a map. Runs are
// lost on restart; finished results are persisted by the result sinks.
type InMemoryRunRepository struct {
	runs map[string]*domain.Run
	mu   sync.RWMutex
}

// NewInMemoryRunRepository creates a new InMemoryRunRepository.
func NewInMemoryRunRepository() *InMemoryRunRepository {
	return &InMemoryRunRepository{
		runs: make(map[string]*domain.Run),
	}
}

// SaveRun adds or replaces a run.
func (r *InMemoryRunRepository) SaveRun(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := copyRun(run)
	if cp.DomainLogs == nil {
		cp.DomainLogs = make(map[string]string)
	}
	r.runs[run.ID] = cp
	log.Printf("Run %s saved in-memory.", run.ID)
	return nil
}

// UpdateRunStatus sets the status, stamping FinishedAt for terminal states.
func (r *InMemoryRunRepository) UpdateRunStatus(ctx context.Context, runID, status string) error {
	return r.update(runID, func(run *domain.Run) {
		run.Status = status
		if status == "COMPLETED" || status == "FAILED" {
			now := time.Now()
			run.FinishedAt = &now
		}
	})
}

// AppendResult adds a finished result to a run.
func (r *InMemoryRunRepository) AppendResult(ctx context.Context, runID string, result *domain.TestResult) error {
	return r.update(runID, func(run *domain.Run) {
		run.Results = append(run.Results, result)
	})
}

// SetDomainLog stores the aggregated log of one domain.
func (r *InMemoryRunRepository) SetDomainLog(ctx context.Context, runID, d, text string) error {
	return r.update(runID, func(run *domain.Run) {
		run.DomainLogs[d] = text
	})
}

// AppendError records a run-level error message.
func (r *InMemoryRunRepository) AppendError(ctx context.Context, runID, message string) error {
	return r.update(runID, func(run *domain.Run) {
		run.Errors = append(run.Errors, message)
	})
}

func (r *InMemoryRunRepository) update(runID string, fn func(*domain.Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run with ID %s: %w", runID, domain.ErrNotFound)
	}
	fn(run)
	return nil
}

// GetRunByID returns a copy of a run.
func (r *InMemoryRunRepository) GetRunByID(ctx context.Context, runID string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run with ID %s: %w", runID, domain.ErrNotFound)
	}
	return copyRun(run), nil
}

// GetAllRuns returns copies of every run, newest first.
func (r *InMemoryRunRepository) GetAllRuns(ctx context.Context) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

func copyRun(run *domain.Run) *domain.Run {
	cp := *run
	cp.Domains = append([]string(nil), run.Domains...)
	cp.Results = append([]*domain.TestResult(nil), run.Results...)
	cp.Errors = append([]string(nil), run.Errors...)
	if run.DomainLogs != nil {
		cp.DomainLogs = make(map[string]string, len(run.DomainLogs))
		for k, v := range run.DomainLogs {
			cp.DomainLogs[k] = v
		}
	}
	return &cp
}
