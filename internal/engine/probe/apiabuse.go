package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/classify"
)

// APIAbuseExecutor runs auth, brute force, enumeration, schema fuzz and
// replay probes. Iterations are sequential and separated by the shape delay.
type APIAbuseExecutor struct {
	env *Env
}

// NewAPIAbuseExecutor creates a new API abuse executor.
func NewAPIAbuseExecutor(env *Env) *APIAbuseExecutor {
	return &APIAbuseExecutor{env: env}
}

// Enumeration templates accept either marker.
const (
	IDMarker   = "{id}"
	FuzzMarker = "FUZZ"
)

type step struct {
	label string
	id    int
	build func(ctx context.Context) (*http.Request, error)
}

type authVariant struct {
	label string
	token string
	send  bool
}

const invalidToken = "invalid.token.signature"

type outcome struct {
	step
	resp Response
}

// Execute implements Executor.
func (x *APIAbuseExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.APIShape)
	if !ok {
		rec.fail(fmt.Errorf("api abuse executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}

	base := BaseURL(job.Config.Domain)
	steps := x.steps(shape, base)
	client := x.env.NewHTTPClient(ClientOptions{Connections: 1, IPOverride: job.Config.IPAddress}, job.Log)
	defer client.CloseIdleConnections()

	var outcomes []outcome
	for i, s := range steps {
		if i > 0 && !pause(ctx, shape.Delay) {
			rec.fail(fmt.Errorf("cancelled after %d of %d iterations: %w", i, len(steps), ctx.Err()))
			break
		}
		req, err := s.build(ctx)
		if err != nil {
			job.Log.Now("iteration %q skipped: %v", s.label, err)
			continue
		}
		resp := x.env.do(ctx, client, job, req)
		if resp.Err != nil && ctx.Err() != nil {
			rec.fail(fmt.Errorf("cancelled after %d of %d iterations: %w", i, len(steps), ctx.Err()))
			break
		}
		rec.observe(resp)
		outcomes = append(outcomes, outcome{step: s, resp: resp})
	}

	verdict, apply := x.evaluate(job, shape, outcomes)
	success := 0
	for _, o := range outcomes {
		if o.resp.OK() {
			success++
		}
	}
	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.TotalRequests = len(outcomes)
		d.SuccessCount = success
		d.ErrorCount = len(outcomes) - success
		d.SuccessRate = classify.Percent(success, len(outcomes))
		d.ErrorRate = classify.Percent(len(outcomes)-success, len(outcomes))
		apply(d)
	}
	return rec.finish(verdict)
}

// steps expands the shape into the ordered iteration list.
func (x *APIAbuseExecutor) steps(shape domain.APIShape, base string) []step {
	target := JoinPath(base, shape.Path)
	var steps []step

	switch shape.Kind {
	case domain.KindAPIAuth:
		variants := []authVariant{
			{label: "no-credentials"},
			{label: "invalid-credentials", token: invalidToken, send: true},
		}
		if shape.AuthToken != "" {
			variants = append(variants, authVariant{label: "valid-credentials", token: shape.AuthToken, send: true})
		}
		for _, v := range variants {
			v := v
			steps = append(steps, step{label: v.label, build: func(ctx context.Context) (*http.Request, error) {
				headers := copyHeaders(shape.Headers)
				if v.send {
					name, value := credentialHeader(shape.AuthMode, v.token)
					headers[name] = value
				}
				return newRequest(ctx, shape.Method, target, shape.BodyTemplate, headers)
			}})
		}

	case domain.KindBruteForce:
		for _, pw := range shape.Passwords {
			password := pw
			steps = append(steps, step{label: password, build: func(ctx context.Context) (*http.Request, error) {
				body := loginBody(shape.BodyTemplate, shape.Username, password)
				headers := copyHeaders(shape.Headers)
				if _, ok := lookupHeader(headers, "Content-Type"); !ok {
					headers["Content-Type"] = guessContentType(body)
				}
				method := shape.Method
				if method == "" {
					method = http.MethodPost
				}
				return newRequest(ctx, method, target, body, headers)
			}})
		}

	case domain.KindEnumeration:
		for _, id := range EnumerationIDs(shape.IDStart, shape.IDEnd, shape.Step) {
			id := id
			steps = append(steps, step{label: strconv.Itoa(id), id: id, build: func(ctx context.Context) (*http.Request, error) {
				return newRequest(ctx, shape.Method, enumerationURL(base, shape.EnumTemplate, id), "", shape.Headers)
			}})
		}

	case domain.KindSchemaValidation:
		types := shape.ContentTypes
		if len(types) == 0 {
			types = []string{"application/json"}
		}
		cases := shape.FuzzCases
		if len(cases) == 0 {
			cases = []string{shape.BodyTemplate}
		}
		for _, ct := range types {
			for _, c := range cases {
				contentType, body := ct, c
				steps = append(steps, step{label: contentType + " " + body, build: func(ctx context.Context) (*http.Request, error) {
					headers := copyHeaders(shape.Headers)
					headers["Content-Type"] = contentType
					method := shape.Method
					if method == "" {
						method = http.MethodPost
					}
					return newRequest(ctx, method, target, body, headers)
				}})
			}
		}

	default: // business logic replay
		for i := 0; i < shape.ReplayCount; i++ {
			steps = append(steps, step{label: "replay " + strconv.Itoa(i+1), build: func(ctx context.Context) (*http.Request, error) {
				method := shape.Method
				if method == "" && shape.BodyTemplate != "" {
					method = http.MethodPost
				}
				return newRequest(ctx, method, target, shape.BodyTemplate, shape.Headers)
			}})
		}
	}
	return steps
}

// evaluate returns the verdict and the kind-specific detail writer.
func (x *APIAbuseExecutor) evaluate(job *Job, shape domain.APIShape, outcomes []outcome) (domain.Verdict, func(*domain.TestResultDetails)) {
	var accepted, rejected []string
	throttled := 0
	for _, o := range outcomes {
		if o.resp.OK() {
			accepted = append(accepted, o.label)
		} else {
			rejected = append(rejected, o.label)
		}
		if o.resp.Err == nil && classify.IsBlockedStatus(job.Kind, o.resp.Status) {
			throttled++
		}
	}

	switch shape.Kind {
	case domain.KindAPIAuth:
		verdict := domain.VerdictBlocked
		unauth := 0
		for _, o := range outcomes {
			if o.label != "valid-credentials" && o.resp.OK() {
				unauth++
				verdict = domain.VerdictBypassed
				job.Log.Now("%s was accepted with status %d", o.label, o.resp.Status)
			}
		}
		return verdict, func(d *domain.TestResultDetails) {
			d.AttemptsSucceeded = unauth
			d.AcceptedCases = accepted
			d.RejectedCases = rejected
			d.ThrottledCount = throttled
		}

	case domain.KindBruteForce:
		verdict := domain.VerdictBlocked
		if len(accepted) > 0 || throttled == 0 {
			verdict = domain.VerdictBypassed
		}
		job.Log.Now("brute force: %d of %d attempts accepted, %d throttled", len(accepted), len(outcomes), throttled)
		return verdict, func(d *domain.TestResultDetails) {
			d.AttemptsSucceeded = len(accepted)
			d.ThrottledCount = throttled
		}

	case domain.KindEnumeration:
		var visited, exposed []int
		for _, o := range outcomes {
			visited = append(visited, o.id)
			if o.resp.OK() {
				exposed = append(exposed, o.id)
			}
		}
		verdict := domain.VerdictBlocked
		if len(exposed) > 0 {
			verdict = domain.VerdictBypassed
		}
		return verdict, func(d *domain.TestResultDetails) {
			d.IDsVisited = visited
			d.ExposedIDs = exposed
			d.ThrottledCount = throttled
		}

	case domain.KindSchemaValidation:
		verdict := domain.VerdictBlocked
		if len(accepted) > 0 {
			verdict = domain.VerdictBypassed
		}
		return verdict, func(d *domain.TestResultDetails) {
			d.AcceptedCases = accepted
			d.RejectedCases = rejected
		}

	default:
		verdict := domain.VerdictBlocked
		if len(accepted) > 1 {
			verdict = domain.VerdictBypassed
		}
		return verdict, func(d *domain.TestResultDetails) {
			d.AttemptsSucceeded = len(accepted)
			d.ThrottledCount = throttled
		}
	}
}

// EnumerationIDs lists start..end inclusive stepping by step (minimum 1).
func EnumerationIDs(start, end, step int) []int {
	if step < 1 {
		step = 1
	}
	var ids []int
	for id := start; id <= end; id += step {
		ids = append(ids, id)
	}
	return ids
}

func enumerationURL(base, template string, id int) string {
	s := strconv.Itoa(id)
	path := template
	switch {
	case strings.Contains(path, IDMarker):
		path = strings.ReplaceAll(path, IDMarker, s)
	case strings.Contains(path, FuzzMarker):
		path = strings.ReplaceAll(path, FuzzMarker, s)
	default:
		path = strings.TrimRight(path, "/") + "/" + s
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return JoinPath(base, path)
}

func credentialHeader(mode, token string) (string, string) {
	switch strings.ToLower(mode) {
	case "basic":
		if !strings.Contains(token, ":") {
			return "Authorization", "Basic " + token
		}
		return "Authorization", "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
	case "apikey", "api_key", "api-key":
		return "X-API-Key", token
	default:
		return "Authorization", "Bearer " + token
	}
}

func loginBody(template, username, password string) string {
	if template == "" {
		return fmt.Sprintf(`{"username":%q,"password":%q}`, username, password)
	}
	r := strings.NewReplacer("{{username}}", username, "{{password}}", password, PayloadMarker, password)
	return r.Replace(template)
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}
