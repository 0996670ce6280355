package probe

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
)

// InjectionExecutor runs WAF payload probes: SQLi, XSS, traversal, custom
// header rules and oversized bodies. Payloads are sent one at a time.
type InjectionExecutor struct {
	env *Env
}

// NewInjectionExecutor creates a new injection executor.
func NewInjectionExecutor(env *Env) *InjectionExecutor {
	return &InjectionExecutor{env: env}
}

type attempt struct {
	label string
	build func(ctx context.Context, base string) (*http.Request, error)
}

// Execute implements Executor.
func (x *InjectionExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.InjectionShape)
	if !ok {
		rec.fail(fmt.Errorf("injection executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}

	attempts := x.attempts(shape)
	client := x.env.NewHTTPClient(ClientOptions{Connections: 1, IPOverride: job.Config.IPAddress}, job.Log)
	defer client.CloseIdleConnections()
	base := BaseURL(job.Config.Domain)

	var blocked, passed []string
	// unsent payloads are listed as passed so both lists cover every payload
	abort := func(i int) {
		for _, rest := range attempts[i:] {
			passed = append(passed, rest.label)
		}
		rec.fail(fmt.Errorf("cancelled after %d of %d payloads: %w", i, len(attempts), ctx.Err()))
	}
	for i, a := range attempts {
		if i > 0 && !pause(ctx, x.env.Settings.PayloadDelay) {
			abort(i)
			break
		}

		req, err := a.build(ctx, base)
		if err != nil {
			job.Log.Now("payload %q could not be placed: %v", a.label, err)
			passed = append(passed, a.label)
			continue
		}
		resp := x.env.do(ctx, client, job, req)
		if resp.Err != nil && ctx.Err() != nil {
			abort(i)
			break
		}
		rec.observe(resp)
		if resp.Err != nil || resp.Blocked {
			blocked = append(blocked, a.label)
			job.Log.Now("payload %q blocked", a.label)
		} else {
			passed = append(passed, a.label)
			job.Log.Now("payload %q passed with %d", a.label, resp.Status)
		}
	}

	verdict := domain.VerdictBypassed
	if len(attempts) > 0 && len(passed) == 0 {
		verdict = domain.VerdictBlocked
	}
	injectionType := string(shape.Kind)
	if shape.Kind == domain.KindWAFProbe || shape.Kind == domain.KindCustomRules {
		injectionType = classify.InjectionType(shape.Payloads)
	}

	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.PayloadsBlocked = blocked
		d.PayloadsPassed = passed
		d.SecurityEffectiveness = classify.Percent(len(blocked), len(attempts))
		d.InjectionType = injectionType
		d.TotalRequests = len(attempts)
	}
	return rec.finish(verdict)
}

// attempts expands the shape into one request builder per payload.
func (x *InjectionExecutor) attempts(shape domain.InjectionShape) []attempt {
	switch {
	case shape.Kind == domain.KindOversizedBody:
		label, body := OversizedBody(shape.BodySizeKB, shape.FieldCount)
		return []attempt{{label: label, build: func(ctx context.Context, base string) (*http.Request, error) {
			method := shape.Method
			if method == "" {
				method = http.MethodPost
			}
			headers := map[string]string{"Content-Type": "application/json"}
			for k, v := range shape.Headers {
				headers[k] = v
			}
			return newRequest(ctx, method, JoinPath(base, shape.Path), body, headers)
		}}}
	case shape.Kind == domain.KindCustomRules && len(shape.Payloads) == 0:
		return []attempt{{label: headerLabel(shape.Headers), build: func(ctx context.Context, base string) (*http.Request, error) {
			return newRequest(ctx, shape.Method, JoinPath(base, shape.Path), "", shape.Headers)
		}}}
	}

	out := make([]attempt, 0, len(shape.Payloads))
	for _, p := range shape.Payloads {
		payload := p
		out = append(out, attempt{label: payload, build: func(ctx context.Context, base string) (*http.Request, error) {
			encoded := Encode(payload, shape.Encoding)
			req, err := InjectionRequest(ctx, base, shape, encoded)
			if err != nil && shape.Encoding != domain.EncodingURL {
				// raw placement produced an unparsable URL, retry escaped
				return InjectionRequest(ctx, base, shape, Encode(payload, domain.EncodingURL))
			}
			return req, err
		}})
	}
	return out
}
