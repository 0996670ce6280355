package probe

import (
	"strconv"
	"sync"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// recorder accumulates the common parts of a result while an executor runs.
// observe may be called from concurrent workers.
type recorder struct {
	job   *Job
	start time.Time

	mu       sync.Mutex
	requests int
	details  domain.TestResultDetails
	signals  []classify.Signal

	// seal runs just before the result is built, with the final duration.
	seal func(durationMs int64, d *domain.TestResultDetails)
}

func newRecorder(job *Job) *recorder {
	job.Log.Now("test %s (%s) started against %s", job.Config.TestID, job.Kind, job.Config.Domain)
	return &recorder{job: job, start: time.Now()}
}

// observe folds one HTTP response into the common details. The last observed
// response provides statusCode, headers and timing.
func (r *recorder) observe(resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	r.signals = append(r.signals, resp.Signals...)
	if resp.Err != nil {
		return
	}
	if r.details.StatusCodes == nil {
		r.details.StatusCodes = make(map[string]int)
	}
	r.details.StatusCodes[strconv.Itoa(resp.Status)]++
	r.details.StatusCode = resp.Status
	r.details.ResponseHeaders = headerMap(resp.Header)
	if !resp.Timing.Empty() {
		t := resp.Timing
		r.details.Timing = &t
	}
}

// count adds socket-level attempts that did not go through observe.
func (r *recorder) count(n int) {
	r.mu.Lock()
	r.requests += n
	r.mu.Unlock()
}

// networkError records a per-request socket or transport failure. It is part
// of the measurement, not a failure of the test unit.
func (r *recorder) networkError(err error) {
	r.mu.Lock()
	r.details.NetworkLogs = append(r.details.NetworkLogs, err.Error())
	r.mu.Unlock()
}

// fail records a test-level error message on the result. Only executor
// faults and cancellation end up here.
func (r *recorder) fail(err error) {
	r.mu.Lock()
	r.details.Error = err.Error()
	r.mu.Unlock()
	r.job.Log.Now("test %s error: %v", r.job.Config.TestID, err)
}

// finish seals the result. The verdict alone decides the status.
func (r *recorder) finish(verdict domain.Verdict) *domain.TestResult {
	end := time.Now()
	cfg := r.job.Config
	duration := end.Sub(r.start).Milliseconds()

	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.details
	d.Verdict = verdict
	if r.seal != nil {
		r.seal(duration, &d)
	}
	timing.Safe(r.job.Log, "signal scoring", func() {
		d.WAFSignals = classify.Strings(r.signals, classify.CategoryWAF)
		d.BotSignals = classify.Strings(r.signals, classify.CategoryBot)
		d.WAFScore = classify.Score(r.signals, classify.CategoryWAF)
		d.BotScore = classify.Score(r.signals, classify.CategoryBot)
		if len(d.BotSignals) > 0 {
			d.ChallengeDetected = true
		}
	})
	params := cfg.Parameters
	d.Params = &params

	credits := r.requests
	if credits < 1 {
		credits = 1
	}

	status := domain.StatusFromVerdict(verdict)
	r.job.Log.Addf(end, "test %s finished: %s (%s)", cfg.TestID, verdict, status)

	return &domain.TestResult{
		TestID:        cfg.TestID,
		TestName:      testName(cfg),
		Category:      cfg.Category,
		Type:          cfg.Type,
		Domain:        cfg.Domain,
		IPAddress:     cfg.IPAddress,
		Status:        status,
		StartTime:     r.start,
		EndTime:       end,
		Duration:      duration,
		CreditsUsed:   credits,
		ResultDetails: d,
		RawLogs:       r.job.Log.Timeline(),
	}
}

func testName(cfg *domain.TestConfiguration) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	if cfg.Type != "" {
		return cfg.Type
	}
	return string(cfg.Kind)
}
