package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// FloodExecutor runs HTTP burst and sustained flood tests.
type FloodExecutor struct {
	env *Env
}

// NewFloodExecutor creates a new flood executor.
func NewFloodExecutor(env *Env) *FloodExecutor {
	return &FloodExecutor{env: env}
}

// floodTally is merged from every worker once it finishes.
type floodTally struct {
	mu        sync.Mutex
	success   int
	errors    int
	latencies []float64
}

func (t *floodTally) merge(success, errors int, latencies []float64) {
	t.mu.Lock()
	t.success += success
	t.errors += errors
	t.latencies = append(t.latencies, latencies...)
	t.mu.Unlock()
}

// Execute implements Executor.
func (x *FloodExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.FloodShape)
	if !ok {
		rec.fail(fmt.Errorf("flood executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}

	workers := shape.Concurrency
	if workers < 1 {
		workers = 1
	}
	if limit := x.env.Limiter.Cap(); workers > limit {
		workers = limit
	}
	interval := shape.Interval
	if interval < x.env.Settings.MinInterval {
		interval = x.env.Settings.MinInterval
	}

	client := x.env.NewHTTPClient(ClientOptions{Connections: workers, IPOverride: job.Config.IPAddress}, job.Log)
	defer client.CloseIdleConnections()
	target := JoinPath(BaseURL(job.Config.Domain), shape.Path)

	tally := &floodTally{}
	switch {
	case shape.Mode == domain.FloodSustained && shape.RPS > 0 && x.env.Attacker != nil:
		x.rateFlood(ctx, job, rec, client, shape, target, workers, tally)
	case shape.Mode == domain.FloodSustained:
		deadline := time.Now().Add(shape.Duration)
		job.Log.Now("sustained flood: %d workers until %s, interval %s", workers, deadline.UTC().Format(time.RFC3339), interval)
		x.runWorkers(ctx, job, rec, client, shape, target, workers, interval, tally, func(int) int { return -1 }, deadline)
	default:
		if shape.Requests < workers {
			workers = shape.Requests
		}
		if workers < 1 {
			break
		}
		per := shape.Requests / workers
		rem := shape.Requests % workers
		job.Log.Now("burst: %d requests across %d workers, interval %s", shape.Requests, workers, interval)
		quota := func(i int) int {
			if i < rem {
				return per + 1
			}
			return per
		}
		x.runWorkers(ctx, job, rec, client, shape, target, workers, interval, tally, quota, time.Time{})
	}

	total := tally.success + tally.errors
	successRate := classify.Percent(tally.success, total)
	verdict := classify.VerdictFromSuccessRate(successRate)
	mean, p95 := classify.Latency(tally.latencies)

	rec.seal = func(durationMs int64, d *domain.TestResultDetails) {
		d.TotalRequests = total
		d.SuccessCount = tally.success
		d.ErrorCount = tally.errors
		d.SuccessRate = successRate
		d.ErrorRate = classify.Percent(tally.errors, total)
		d.RequestsPerSecond = classify.RequestsPerSecond(total, durationMs)
		d.LatencyP50Ms = mean
		d.LatencyP95Ms = p95
	}
	job.Log.Now("flood finished: %d requests, %d ok, %d errors, success rate %.1f%%", total, tally.success, tally.errors, successRate)
	return rec.finish(verdict)
}

// runWorkers starts workers that each issue quota(i) requests (negative means
// unbounded) or stop at deadline when it is set. Within one worker requests
// are strictly sequential.
func (x *FloodExecutor) runWorkers(ctx context.Context, job *Job, rec *recorder, client *http.Client, shape domain.FloodShape, target string, workers int, interval time.Duration, tally *floodTally, quota func(int) int, deadline time.Time) {
	runCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		n := quota(i)
		g.Go(func() error {
			var success, errs int
			var latencies []float64
			for sent := 0; n < 0 || sent < n; sent++ {
				if sent > 0 && !pause(runCtx, interval) {
					break
				}
				if runCtx.Err() != nil {
					break
				}
				req, err := newRequest(runCtx, shape.Method, target, shape.Body, shape.Headers)
				if err != nil {
					job.Log.Now("flood request build error: %v", err)
					errs++
					continue
				}
				resp := x.env.do(runCtx, client, job, req)
				if resp.Err != nil && runCtx.Err() != nil {
					// cut off by the deadline or cancellation, not a target error
					break
				}
				rec.observe(resp)
				latencies = append(latencies, float64(resp.Latency.Microseconds())/1000)
				if resp.OK() {
					success++
				} else {
					errs++
				}
			}
			tally.merge(success, errs, latencies)
			return nil
		})
	}
	g.Wait()
}

// rateFlood replays one request at a fixed rate through the RateAttacker.
func (x *FloodExecutor) rateFlood(ctx context.Context, job *Job, rec *recorder, client *http.Client, shape domain.FloodShape, target string, workers int, tally *floodTally) {
	method := shape.Method
	if method == "" {
		method = http.MethodGet
	}
	header := http.Header{}
	header.Set("User-Agent", defaultUserAgent)
	for k, v := range shape.Headers {
		header.Set(k, v)
	}
	rt := RateTarget{Method: strings.ToUpper(method), URL: target, Header: header}
	if shape.Body != "" {
		rt.Body = []byte(shape.Body)
	}

	job.Log.Now("rate flood: %d rps for %s with %d workers", shape.RPS, shape.Duration, workers)
	samples, err := x.env.Attacker.Attack(ctx, rt, shape.RPS, shape.Duration, workers, x.env.limitedClient(client))
	if err != nil {
		rec.fail(fmt.Errorf("rate attack: %w", err))
	}

	var success, errs int
	latencies := make([]float64, 0, len(samples))
	for _, s := range samples {
		latencies = append(latencies, float64(s.Latency.Microseconds())/1000)
		blocked := classify.IsBlockedStatus(job.Kind, s.Code)
		if s.Error == "" && classify.IsSuccess(s.Code) {
			success++
		} else {
			errs++
		}
		if x.env.Metrics != nil {
			timing.Safe(job.Log, "metrics", func() {
				x.env.Metrics.ObserveRequest(job.Kind, blocked, s.Code == 0, s.Latency)
			})
		}
		rec.observe(Response{Status: s.Code, Latency: s.Latency, Blocked: blocked, Err: sampleErr(s)})
	}
	tally.merge(success, errs, latencies)
	job.emit(domain.Info(fmt.Sprintf("rate flood sent %d requests to %s", len(samples), target)))
}

func sampleErr(s RateSample) error {
	if s.Code == 0 && s.Error != "" {
		return errors.New(s.Error)
	}
	return nil
}
