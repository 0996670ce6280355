// Package probe holds one executor per test family. Executors never return
// errors for network trouble: failures are counted, logged and folded into
// the TestResult.
package probe

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// Settings are the engine-wide knobs shared by every executor.
type Settings struct {
	MaxConcurrency  int           // global cap on simultaneous sockets
	MinInterval     time.Duration // pacing floor between requests of one worker
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	PayloadDelay    time.Duration // gap between injection payloads
	IterationDelay  time.Duration // default gap between API-abuse iterations
	BodyCaptureSize int           // bytes of response body kept for classification
	MaxCrawlFetches int
	InsecureTLS     bool
	HTTP2           bool
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrency:  50,
		MinInterval:     10 * time.Millisecond,
		ConnectTimeout:  5 * time.Second,
		ReadTimeout:     10 * time.Second,
		PayloadDelay:    100 * time.Millisecond,
		IterationDelay:  250 * time.Millisecond,
		BodyCaptureSize: 50 * 1024,
		MaxCrawlFetches: 20,
		HTTP2:           true,
	}
}

// Limiter bounds the number of simultaneous sockets across all workers of all tests.
type Limiter struct {
	sem *semaphore.Weighted
	cap int
}

// NewLimiter creates a limiter with n slots (minimum 1).
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), cap: n}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees a slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// Cap returns the configured slot count.
func (l *Limiter) Cap() int {
	return l.cap
}

// limitedTransport holds one limiter slot per request, from dial until the
// response body is closed.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Acquire(req.Context()); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.limiter.Release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: t.limiter.Release}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// Env carries the collaborators executors share.
type Env struct {
	Settings Settings
	Limiter  *Limiter
	Metrics  domain.MetricsReporter // optional
	Attacker RateAttacker           // optional, used for rate-targeted floods
}

// NewEnv builds an Env with a limiter sized from settings.
func NewEnv(s Settings) *Env {
	return &Env{Settings: s, Limiter: NewLimiter(s.MaxConcurrency)}
}

// limitedClient returns a copy of c whose requests each take a limiter slot.
func (e *Env) limitedClient(c *http.Client) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *c
	cp.Transport = &limitedTransport{base: base, limiter: e.Limiter}
	return &cp
}

// Job is one routed unit of work.
type Job struct {
	Config *domain.TestConfiguration
	Kind   domain.TestKind
	Shape  domain.Shape
	Log    *timing.EventLog
	Emit   func(domain.LogEvent) // optional streaming hook
}

func (j *Job) emit(ev domain.LogEvent) {
	if j.Emit == nil {
		return
	}
	ev.Domain = j.Config.Domain
	ev.TestID = j.Config.TestID
	timing.Safe(j.Log, "emit event", func() { j.Emit(ev) })
}

// Executor runs one family of tests.
type Executor interface {
	Execute(ctx context.Context, job *Job) *domain.TestResult
}

// RateTarget is the request a rate-targeted attack replays.
type RateTarget struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RateSample is one request outcome reported by a RateAttacker.
type RateSample struct {
	Code    int
	Latency time.Duration
	Error   string
}

// RateAttacker issues requests at a fixed rate for a duration.
type RateAttacker interface {
	Attack(ctx context.Context, target RateTarget, rps int, duration time.Duration, workers int, client *http.Client) ([]RateSample, error)
}
