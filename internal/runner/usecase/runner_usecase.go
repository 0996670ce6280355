package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/dispatch"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
	"github.com/pace-noge/defense-probe/internal/utils"
)

const (
	RunPending   = "PENDING"
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"

	sinkTimeout = 5 * time.Second
)

// ErrNoRunnableTests is returned when every unit of a plan failed validation.
var ErrNoRunnableTests = errors.New("no runnable tests in plan")

// Options wires optional collaborators into the runner.
type Options struct {
	Runs        domain.RunRepository // required for Submit
	ResultSinks []domain.ResultSink
	EventSinks  []domain.EventSink
	Metrics     domain.MetricsReporter
	TestTimeout time.Duration
}

// DomainQueue is the ordered list of tests to run against one domain.
type DomainQueue struct {
	Domain string
	Tests  []*domain.TestConfiguration
}

// RunnerUsecase fans plans out across domains and drives the executors.
type RunnerUsecase struct {
	dispatcher  *dispatch.Dispatcher
	runs        domain.RunRepository
	resultSinks []domain.ResultSink
	metrics     domain.MetricsReporter
	testTimeout time.Duration
	bus         *eventBus
	states      sync.Map // runID -> *runState
}

// NewRunnerUsecase creates a new RunnerUsecase and starts its event bus.
func NewRunnerUsecase(d *dispatch.Dispatcher, opts Options) *RunnerUsecase {
	timeout := opts.TestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &RunnerUsecase{
		dispatcher:  d,
		runs:        opts.Runs,
		resultSinks: opts.ResultSinks,
		metrics:     opts.Metrics,
		testTimeout: timeout,
		bus:         newEventBus(opts.EventSinks, 1024),
	}
}

// Close flushes pending events to the sinks.
func (uc *RunnerUsecase) Close() {
	uc.bus.close()
}

// ExpandPlan builds one queue per domain, in order of first appearance.
// Manual domains take precedence over plan targets; mapping, keyed by test
// index, restricts a test to the listed domains.
func ExpandPlan(plan *domain.Plan, domains []string, mapping map[int][]string) []DomainQueue {
	var queues []DomainQueue
	index := make(map[string]int)
	add := func(d string, cfg *domain.TestConfiguration) {
		i, ok := index[d]
		if !ok {
			i = len(queues)
			index[d] = i
			queues = append(queues, DomainQueue{Domain: d})
		}
		queues[i].Tests = append(queues[i].Tests, cfg)
	}

	manual := cleanDomains(domains)
	for i, spec := range plan.Tests {
		targets := manual
		if mapped, ok := mapping[i]; ok {
			targets = cleanDomains(mapped)
		} else if len(targets) == 0 {
			targets = []string{strings.TrimSpace(spec.Target)}
		}
		for _, d := range targets {
			add(d, configFor(spec, d))
		}
	}
	return queues
}

func cleanDomains(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, d := range in {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func configFor(spec domain.TestSpec, d string) *domain.TestConfiguration {
	return &domain.TestConfiguration{
		TestID:     uuid.New().String(),
		Name:       spec.Name,
		Category:   spec.Category,
		Type:       spec.Type,
		Kind:       spec.Kind,
		Domain:     d,
		Port:       spec.Port,
		Parameters: spec.Params,
	}
}

// RunTest executes one configuration synchronously. Configuration errors are
// returned before any network activity and produce no result.
func (uc *RunnerUsecase) RunTest(ctx context.Context, cfg *domain.TestConfiguration) (*domain.TestResult, error) {
	route, err := uc.dispatcher.Route(cfg)
	if err != nil {
		return nil, err
	}
	st := newRunState(&domain.Run{ID: uuid.New().String(), Status: RunRunning, CreatedAt: time.Now(), DomainLogs: map[string]string{}})
	dl := newDomainLog(cfg.Domain)
	result := uc.runUnit(ctx, st, dl, cfg, route)
	uc.complete(ctx, st, result, route.Kind)
	return result, nil
}

// Execute runs a plan to completion and returns the finished run.
func (uc *RunnerUsecase) Execute(ctx context.Context, plan *domain.Plan, domains []string, mapping map[int][]string) (*domain.Run, error) {
	run := newRun(plan, domains)
	st := newRunState(run)
	if uc.runs != nil {
		if err := uc.runs.SaveRun(ctx, run); err != nil {
			log.Printf("Runner failed to save run %s: %v", run.ID, err)
		} else {
			st.stored = true
		}
	}
	uc.states.Store(run.ID, st)
	err := uc.execute(ctx, st, plan, domains, mapping)
	return st.snapshot(), err
}

// Submit registers a run and executes it in the background.
func (uc *RunnerUsecase) Submit(plan *domain.Plan, domains []string, mapping map[int][]string) (*domain.Run, error) {
	if uc.runs == nil {
		return nil, errors.New("run repository not configured")
	}
	if plan == nil || len(plan.Tests) == 0 {
		return nil, errors.New("plan has no tests")
	}
	run := newRun(plan, domains)
	if err := uc.runs.SaveRun(context.Background(), run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	st := newRunState(run)
	st.stored = true
	uc.states.Store(run.ID, st)

	go func() {
		if err := uc.execute(context.Background(), st, plan, domains, mapping); err != nil {
			log.Printf("Runner run %s ended with error: %v", run.ID, err)
		}
	}()
	log.Printf("Runner submitted run %s (%s) with %d tests", run.ID, run.PlanName, len(plan.Tests))
	return st.snapshot(), nil
}

func newRun(plan *domain.Plan, domains []string) *domain.Run {
	name := ""
	if plan != nil {
		name = plan.Name
	}
	if name == "" {
		name = utils.GenerateRunName()
	}
	return &domain.Run{
		ID:         uuid.New().String(),
		PlanName:   name,
		Domains:    cleanDomains(domains),
		Status:     RunPending,
		CreatedAt:  time.Now(),
		DomainLogs: make(map[string]string),
	}
}

type routedUnit struct {
	cfg   *domain.TestConfiguration
	route *dispatch.Route
}

func (uc *RunnerUsecase) execute(ctx context.Context, st *runState, plan *domain.Plan, domains []string, mapping map[int][]string) error {
	runID := st.id()
	if plan == nil {
		uc.setStatus(st, RunFailed)
		return errors.New("plan is missing")
	}
	uc.setStatus(st, RunRunning)
	uc.publish(runID, domain.Info(fmt.Sprintf("Run %s started: plan %q", runID, plan.Name)))

	queues := ExpandPlan(plan, domains, mapping)
	routed := make([][]routedUnit, len(queues))
	valid := 0
	for i, q := range queues {
		for _, cfg := range q.Tests {
			route, err := uc.dispatcher.Route(cfg)
			if err != nil {
				msg := fmt.Sprintf("Test %s skipped: %v", cfg.TestID, err)
				ev := domain.Error(msg)
				ev.Domain, ev.TestID = cfg.Domain, cfg.TestID
				uc.publish(runID, ev)
				uc.addError(st, msg, true)
				continue
			}
			routed[i] = append(routed[i], routedUnit{cfg: cfg, route: route})
			valid++
		}
	}
	if valid == 0 {
		uc.setStatus(st, RunFailed)
		uc.summarize(runID, st)
		return ErrNoRunnableTests
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queues {
		if len(routed[i]) == 0 {
			continue
		}
		q, units := q, routed[i]
		g.Go(func() error {
			uc.runDomain(gctx, st, q.Domain, units)
			return nil
		})
	}
	g.Wait()

	status := RunCompleted
	if ctx.Err() != nil {
		status = RunFailed
		uc.addError(st, fmt.Sprintf("run cancelled: %v", ctx.Err()), false)
	}
	uc.setStatus(st, status)
	uc.summarize(runID, st)
	log.Printf("Runner run %s finished: %s", runID, status)
	return nil
}

// runDomain executes one domain's queue sequentially.
func (uc *RunnerUsecase) runDomain(ctx context.Context, st *runState, d string, units []routedUnit) {
	dl := newDomainLog(d)
	for _, u := range units {
		// A cancelled context still yields a result: executors stop at once.
		result := uc.runUnit(ctx, st, dl, u.cfg, u.route)
		uc.complete(ctx, st, result, u.route.Kind)
	}
	text := dl.close()
	st.setDomainLog(d, text)
	if st.stored {
		if err := uc.runs.SetDomainLog(context.Background(), st.id(), d, text); err != nil {
			log.Printf("Runner failed to store domain log for %s: %v", d, err)
		}
	}
}

// runUnit runs one test under its deadline. It always returns a result; a
// panic escaping the executor becomes a degraded FAILED result.
func (uc *RunnerUsecase) runUnit(ctx context.Context, st *runState, dl *domainLog, cfg *domain.TestConfiguration, route *dispatch.Route) (result *domain.TestResult) {
	runID := st.id()
	timeout := uc.testTimeout
	if route.Timeout > 0 {
		timeout = route.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	events := timing.NewEventLog()
	events.OnAppend(func(ev timing.Event) {
		dl.addEvent(ev)
		st.timeline.Add(ev.Time(), ev.Message)
	})
	job := &probe.Job{
		Config: cfg,
		Kind:   route.Kind,
		Shape:  route.Shape,
		Log:    events,
		Emit:   func(ev domain.LogEvent) { uc.publish(runID, ev) },
	}

	emit := func(ev domain.LogEvent) {
		ev.Domain, ev.TestID = cfg.Domain, cfg.TestID
		events.Add(ev.At, ev.Message)
		uc.publish(runID, ev)
	}
	if route.Warning != "" {
		emit(domain.Info("Warning: " + route.Warning))
	}
	emit(domain.Info(fmt.Sprintf("Starting %s test %s against %s", route.Kind, cfg.TestID, cfg.Domain)))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Runner recovered panic in test %s: %v\n%s", cfg.TestID, r, debug.Stack())
			msg := fmt.Sprintf("test %s crashed: %v", cfg.TestID, r)
			emit(domain.Error(msg))
			result = degradedResult(cfg, route.Kind, start, msg, events)
		}
	}()

	result = route.Executor.Execute(ctx, job)
	if result == nil {
		msg := fmt.Sprintf("test %s produced no result", cfg.TestID)
		emit(domain.Error(msg))
		return degradedResult(cfg, route.Kind, start, msg, events)
	}
	emit(domain.Info(fmt.Sprintf("Test %s finished: %s (%s)", cfg.TestID, result.ResultDetails.Verdict, result.Status)))
	return result
}

func degradedResult(cfg *domain.TestConfiguration, kind domain.TestKind, start time.Time, msg string, events *timing.EventLog) *domain.TestResult {
	end := time.Now()
	name := cfg.Name
	if name == "" {
		name = string(kind)
	}
	params := cfg.Parameters
	return &domain.TestResult{
		TestID:      cfg.TestID,
		TestName:    name,
		Category:    cfg.Category,
		Type:        cfg.Type,
		Domain:      cfg.Domain,
		IPAddress:   cfg.IPAddress,
		Status:      domain.StatusFailed,
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start).Milliseconds(),
		CreditsUsed: 1,
		ResultDetails: domain.TestResultDetails{
			Verdict: domain.VerdictBlocked,
			Params:  &params,
			Error:   msg,
		},
		RawLogs: events.Timeline(),
	}
}

// complete hands a finished result to every sink. Sink errors are logged only.
func (uc *RunnerUsecase) complete(ctx context.Context, st *runState, result *domain.TestResult, kind domain.TestKind) {
	st.addResult(result)
	if uc.metrics != nil {
		timing.Safe(nil, "result metrics", func() { uc.metrics.ObserveResult(result, kind) })
	}
	for _, sink := range uc.resultSinks {
		sctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Save(sctx, result); err != nil {
			log.Printf("Runner failed to save result %s to %T: %v", result.TestID, sink, err)
		}
		cancel()
	}
	if st.stored {
		if err := uc.runs.AppendResult(context.Background(), st.id(), result); err != nil {
			log.Printf("Runner failed to append result %s to run %s: %v", result.TestID, st.id(), err)
		}
	}
}

func (uc *RunnerUsecase) addError(st *runState, msg string, unit bool) {
	st.addError(msg, unit)
	if st.stored {
		if err := uc.runs.AppendError(context.Background(), st.id(), msg); err != nil {
			log.Printf("Runner failed to record error for run %s: %v", st.id(), err)
		}
	}
}

func (uc *RunnerUsecase) setStatus(st *runState, status string) {
	st.setStatus(status)
	if st.stored {
		if err := uc.runs.UpdateRunStatus(context.Background(), st.id(), status); err != nil {
			log.Printf("Runner failed to update run %s status: %v", st.id(), err)
		}
	}
}

func (uc *RunnerUsecase) summarize(runID string, st *runState) {
	totals := st.totals()
	msg := fmt.Sprintf("Run %s: %d tests, %d blocked, %d bypassed, %d failed",
		runID, totals.Tests, totals.Blocked, totals.Bypassed, totals.Failed)
	uc.publish(runID, domain.Summary(msg, totals))
}

func (uc *RunnerUsecase) publish(runID string, ev domain.LogEvent) {
	ev.RunID = runID
	uc.bus.publish(ev)
}

// GetRun returns a snapshot of a run, live or stored.
func (uc *RunnerUsecase) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	if v, ok := uc.states.Load(runID); ok {
		return v.(*runState).snapshot(), nil
	}
	if uc.runs != nil {
		return uc.runs.GetRunByID(ctx, runID)
	}
	return nil, domain.ErrNotFound
}

// ListRuns returns all known runs, newest first.
func (uc *RunnerUsecase) ListRuns(ctx context.Context) ([]*domain.Run, error) {
	if uc.runs != nil {
		return uc.runs.GetAllRuns(ctx)
	}
	var out []*domain.Run
	uc.states.Range(func(_, v interface{}) bool {
		out = append(out, v.(*runState).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Timeline returns the plain-text timeline of every event recorded in a run.
func (uc *RunnerUsecase) Timeline(runID string) (string, error) {
	v, ok := uc.states.Load(runID)
	if !ok {
		return "", domain.ErrNotFound
	}
	return v.(*runState).timeline.Timeline(), nil
}
