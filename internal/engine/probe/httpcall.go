package probe

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// Response is the classified outcome of one instrumented HTTP call.
type Response struct {
	Status  int
	Header  http.Header
	Body    string
	Latency time.Duration
	Signals []classify.Signal
	Timing  domain.TimingMetrics
	Blocked bool
	Err     error
}

// OK reports whether a response arrived with a 2xx/3xx status.
func (r Response) OK() bool {
	return r.Err == nil && classify.IsSuccess(r.Status)
}

// do issues req under the global limiter, records timing, classifies the
// response and streams a Request event. It never returns an error: transport
// failures are carried in Response.Err.
func (e *Env) do(ctx context.Context, client *http.Client, job *Job, req *http.Request) Response {
	if err := e.Limiter.Acquire(ctx); err != nil {
		return Response{Err: err}
	}
	defer e.Limiter.Release()

	call := timing.NewCallTrace(job.Log, req.Method+" "+req.URL.String())
	req = req.WithContext(timing.WithCall(req.Context(), call))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		r := Response{Err: err, Latency: time.Since(start), Timing: call.Metrics()}
		e.report(job, req, r)
		return r
	}

	capture := e.Settings.BodyCaptureSize
	if capture <= 0 {
		capture = classify.MaxBodyBytes
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(capture)))
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()

	r := Response{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    string(body),
		Latency: time.Since(start),
		Timing:  call.Metrics(),
	}
	if readErr != nil {
		job.Log.Now("%s body read error: %v", req.URL, readErr)
	}

	r.Signals = call.HeaderSignals()
	timing.Safe(job.Log, "body classification", func() {
		r.Signals = append(r.Signals, classify.Body(r.Body)...)
	})
	r.Blocked = classify.Verdict(job.Kind, r.Status, r.Signals) == domain.VerdictBlocked

	e.report(job, req, r)
	return r
}

func (e *Env) report(job *Job, req *http.Request, r Response) {
	line := domain.RequestLog{
		Method:     req.Method,
		URL:        req.URL.String(),
		Status:     r.Status,
		DurationMs: r.Latency.Milliseconds(),
		Blocked:    r.Blocked,
	}
	if r.Err != nil {
		line.Error = r.Err.Error()
	}
	job.Log.Now("%s", line)
	job.emit(domain.Request(line))
	if e.Metrics != nil {
		timing.Safe(job.Log, "metrics", func() {
			e.Metrics.ObserveRequest(job.Kind, r.Blocked, r.Err != nil, r.Latency)
		})
	}
}

// newRequest builds a request with the configured headers applied.
func newRequest(ctx context.Context, method, target string, body string, headers map[string]string) (*http.Request, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

const defaultUserAgent = "defense-probe/1.0"

// pause waits for d or until ctx is done. It reports false when cancelled.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
