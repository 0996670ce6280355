package probe

import (
	"context"
	"fmt"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// ConnectivityExecutor is the fallback: one GET classified by 2xx/3xx.
type ConnectivityExecutor struct {
	env *Env
}

// NewConnectivityExecutor creates a new connectivity executor.
func NewConnectivityExecutor(env *Env) *ConnectivityExecutor {
	return &ConnectivityExecutor{env: env}
}

// Execute implements Executor.
func (x *ConnectivityExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.ConnectivityShape)
	if !ok {
		rec.fail(fmt.Errorf("connectivity executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}

	client := x.env.NewHTTPClient(ClientOptions{Connections: 1, IPOverride: job.Config.IPAddress}, job.Log)
	defer client.CloseIdleConnections()

	req, err := newRequest(ctx, shape.Method, JoinPath(BaseURL(job.Config.Domain), shape.Path), "", shape.Headers)
	if err != nil {
		rec.fail(err)
		return rec.finish(domain.VerdictBlocked)
	}
	resp := x.env.do(ctx, client, job, req)
	rec.observe(resp)

	verdict := domain.VerdictBlocked
	if resp.OK() {
		verdict = domain.VerdictBypassed
	}
	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.TotalRequests = 1
		if resp.Err != nil {
			d.NetworkLogs = append(d.NetworkLogs, resp.Err.Error())
			d.ErrorCount = 1
		} else if resp.OK() {
			d.SuccessCount = 1
			d.SuccessRate = 100
		} else {
			d.ErrorCount = 1
		}
	}
	return rec.finish(verdict)
}
