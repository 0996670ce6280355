package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// ReachabilityExecutor opens one raw TCP or UDP socket. There are no retries.
type ReachabilityExecutor struct {
	env *Env
}

// NewReachabilityExecutor creates a new reachability executor.
func NewReachabilityExecutor(env *Env) *ReachabilityExecutor {
	return &ReachabilityExecutor{env: env}
}

// Execute implements Executor. A TCP probe succeeds when the handshake
// completes; a UDP probe succeeds when the datagram is written, since no
// reply is expected.
func (x *ReachabilityExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.ReachabilityShape)
	if !ok {
		rec.fail(fmt.Errorf("reachability executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}

	timeout := shape.Timeout
	if timeout <= 0 {
		timeout = x.env.Settings.ConnectTimeout
	}
	addr := net.JoinHostPort(shape.Host, strconv.Itoa(shape.Port))

	if err := x.env.Limiter.Acquire(ctx); err != nil {
		rec.fail(err)
		return rec.finish(domain.VerdictBlocked)
	}
	rec.count(1)
	start := time.Now()
	err := x.probe(ctx, job, shape, addr, timeout)
	x.env.Limiter.Release()
	if x.env.Metrics != nil {
		timing.Safe(job.Log, "metrics", func() {
			x.env.Metrics.ObserveRequest(job.Kind, err != nil, err != nil, time.Since(start))
		})
	}

	verdict := domain.VerdictBypassed
	line := domain.RequestLog{Method: protoLabel(shape.Protocol), URL: addr, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		verdict = domain.VerdictBlocked
		line.Error = err.Error()
		line.Blocked = true
		rec.networkError(err)
	}
	job.emit(domain.Request(line))

	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.StatusCode = 0
		d.TotalRequests = 1
		if err != nil {
			d.ConnectionsFailed = 1
			d.ErrorCount = 1
		} else {
			d.ConnectionsSucceeded = 1
			d.SuccessCount = 1
			d.SuccessRate = 100
		}
	}
	return rec.finish(verdict)
}

func (x *ReachabilityExecutor) probe(ctx context.Context, job *Job, shape domain.ReachabilityShape, addr string, timeout time.Duration) error {
	network := "tcp"
	if shape.Protocol == "udp" {
		network = "udp"
	}
	dialer := net.Dialer{Timeout: timeout}

	start := time.Now()
	job.Log.Addf(start, "%s connect start %s", network, addr)
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		job.Log.Now("%s connect failed %s after %dms: %v", network, addr, time.Since(start).Milliseconds(), err)
		return err
	}
	defer conn.Close()
	job.Log.Now("%s connect end %s (%dms)", network, addr, time.Since(start).Milliseconds())

	if network == "udp" {
		payload := shape.Payload
		if len(payload) == 0 {
			payload = []byte("ping")
		}
		conn.SetWriteDeadline(time.Now().Add(timeout))
		n, err := conn.Write(payload)
		if err != nil {
			job.Log.Now("udp send to %s failed: %v", addr, err)
			return err
		}
		job.Log.Now("udp sent %d bytes to %s", n, addr)
	}
	return nil
}

func protoLabel(p string) string {
	if p == "udp" {
		return "UDP"
	}
	return "TCP"
}
