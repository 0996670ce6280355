package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

// Route is the outcome of dispatching one configuration.
type Route struct {
	Kind     domain.TestKind
	Inferred domain.TestKind
	Shape    domain.Shape
	Executor probe.Executor
	Timeout  time.Duration // 0 means the engine default
	Warning  string        // set when the explicit kind disagrees with the inferred one
}

// Dispatcher maps families to executors.
type Dispatcher struct {
	env       *probe.Env
	strict    bool
	executors map[domain.Family]probe.Executor
}

// NewDispatcher registers one executor per family. In strict mode an explicit
// kind that disagrees with the inferred family is rejected.
func NewDispatcher(env *probe.Env, strict bool) *Dispatcher {
	return &Dispatcher{
		env:    env,
		strict: strict,
		executors: map[domain.Family]probe.Executor{
			domain.FamilyFlood:        probe.NewFloodExecutor(env),
			domain.FamilyInjection:    probe.NewInjectionExecutor(env),
			domain.FamilyReachability: probe.NewReachabilityExecutor(env),
			domain.FamilyAPIAbuse:     probe.NewAPIAbuseExecutor(env),
			domain.FamilyBot:          probe.NewBotExecutor(env),
			domain.FamilyConnectivity: probe.NewConnectivityExecutor(env),
		},
	}
}

// Register replaces the executor for a family.
func (d *Dispatcher) Register(f domain.Family, x probe.Executor) {
	d.executors[f] = x
}

// Resolve picks the kind for cfg. An explicit kind wins. Inference that finds
// nothing (connectivity) is never treated as a disagreement.
func Resolve(cfg *domain.TestConfiguration, strict bool) (kind, inferred domain.TestKind, warning string, err error) {
	inferred = Infer(cfg)
	explicit := domain.TestKind(strings.ToLower(strings.TrimSpace(string(cfg.Kind))))
	if explicit == "" {
		return inferred, inferred, "", nil
	}
	if !explicit.Valid() {
		return "", inferred, "", domain.NewConfigError(cfg.TestID, "kind", fmt.Sprintf("unknown test kind %q", cfg.Kind))
	}
	if inferred != domain.KindConnectivity && inferred.Family() != explicit.Family() {
		msg := fmt.Sprintf("kind %s disagrees with parameters that look like %s", explicit, inferred)
		if strict {
			return "", inferred, "", domain.NewConfigError(cfg.TestID, "kind", msg)
		}
		warning = msg
	}
	return explicit, inferred, warning, nil
}

// Route validates cfg and selects its executor. Every error is a ConfigError
// and is returned before any network activity.
func (d *Dispatcher) Route(cfg *domain.TestConfiguration) (*Route, error) {
	if cfg == nil {
		return nil, domain.NewConfigError("", "", "configuration is missing")
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		return nil, domain.NewConfigError(cfg.TestID, "domain", "is required")
	}
	kind, inferred, warning, err := Resolve(cfg, d.strict)
	if err != nil {
		return nil, err
	}
	shape, err := Normalize(cfg, kind, d.env.Settings)
	if err != nil {
		return nil, err
	}
	x, ok := d.executors[kind.Family()]
	if !ok {
		return nil, domain.NewConfigError(cfg.TestID, "kind", fmt.Sprintf("no executor for %s", kind))
	}
	r := &Route{Kind: kind, Inferred: inferred, Shape: shape, Executor: x, Warning: warning}
	if cfg.Parameters.TimeoutMs != nil && *cfg.Parameters.TimeoutMs > 0 {
		r.Timeout = time.Duration(*cfg.Parameters.TimeoutMs) * time.Millisecond
	}
	return r, nil
}

// Run is a convenience for callers that route and execute in one step.
func (d *Dispatcher) Run(ctx context.Context, cfg *domain.TestConfiguration, job *probe.Job) (*domain.TestResult, error) {
	r, err := d.Route(cfg)
	if err != nil {
		return nil, err
	}
	job.Config = cfg
	job.Kind = r.Kind
	job.Shape = r.Shape
	return r.Executor.Execute(ctx, job), nil
}
