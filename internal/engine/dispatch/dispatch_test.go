package dispatch

import (
	"testing"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func TestInferPrecedence(t *testing.T) {
	tests := []struct {
		name string
		port *int
		p    domain.TestParameters
		want domain.TestKind
	}{
		{"burst wins over everything", intp(80), domain.TestParameters{BurstRequests: intp(10), RPSTarget: intp(5), Payloads: []string{"x"}}, domain.KindHTTPBurst},
		{"rps target", nil, domain.TestParameters{RPSTarget: intp(50)}, domain.KindSustainedFlood},
		{"concurrency and duration", nil, domain.TestParameters{Concurrency: intp(4), DurationSeconds: intp(30)}, domain.KindSustainedFlood},
		{"concurrency alone is not a flood", nil, domain.TestParameters{Concurrency: intp(4)}, domain.KindConnectivity},
		{"port with payload", intp(53), domain.TestParameters{Payloads: []string{"ping"}}, domain.KindUDPReachability},
		{"port alone", intp(22), domain.TestParameters{}, domain.KindTCPReachability},
		{"path payload", nil, domain.TestParameters{Payloads: []string{"../etc/passwd"}, InjectionPoint: "path"}, domain.KindPathTraversal},
		{"headers only", nil, domain.TestParameters{Headers: map[string]string{"X-Forwarded-For": "127.0.0.1"}}, domain.KindCustomRules},
		{"body size", nil, domain.TestParameters{BodySizeKB: intp(1024)}, domain.KindOversizedBody},
		{"field count with headers", nil, domain.TestParameters{FieldCount: intp(5000), Headers: map[string]string{"A": "b"}}, domain.KindOversizedBody},
		{"payload general", nil, domain.TestParameters{Payloads: []string{"<script>"}, InjectionPoint: "query"}, domain.KindWAFProbe},
		{"payload with headers stays waf", nil, domain.TestParameters{Payloads: []string{"' or 1=1"}, Headers: map[string]string{"A": "b"}}, domain.KindWAFProbe},
		{"auth mode", nil, domain.TestParameters{AuthMode: "bearer", Headers: map[string]string{"A": "b"}}, domain.KindAPIAuth},
		{"auth token", nil, domain.TestParameters{AuthToken: "t"}, domain.KindAPIAuth},
		{"brute force", nil, domain.TestParameters{Username: "admin", PasswordList: []string{"a"}}, domain.KindBruteForce},
		{"username without passwords", nil, domain.TestParameters{Username: "admin"}, domain.KindConnectivity},
		{"enumeration", nil, domain.TestParameters{EnumTemplate: "/u/{id}", IDRange: []int{1, 5}}, domain.KindEnumeration},
		{"fuzz cases", nil, domain.TestParameters{FuzzCases: []string{"{}"}}, domain.KindSchemaValidation},
		{"content types", nil, domain.TestParameters{ContentTypes: []string{"text/xml"}}, domain.KindSchemaValidation},
		{"replay count", nil, domain.TestParameters{ReplayCount: intp(3)}, domain.KindBusinessLogic},
		{"request delay", nil, domain.TestParameters{RequestDelayMs: intp(100)}, domain.KindBusinessLogic},
		{"crawl depth", nil, domain.TestParameters{CrawlDepth: intp(2), UAProfiles: []string{"googlebot"}}, domain.KindCrawler},
		{"respect robots", nil, domain.TestParameters{RespectRobots: boolp(false)}, domain.KindCrawler},
		{"ua profiles", nil, domain.TestParameters{UAProfiles: []string{"curl"}}, domain.KindUserAgent},
		{"nothing", nil, domain.TestParameters{}, domain.KindConnectivity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &domain.TestConfiguration{TestID: "t", Domain: "example.com", Port: tt.port, Parameters: tt.p}
			if got := Infer(cfg); got != tt.want {
				t.Errorf("Infer = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveExplicitKind(t *testing.T) {
	payloadCfg := &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{Payloads: []string{"' or 1=1"}}}

	tests := []struct {
		name     string
		kind     domain.TestKind
		strict   bool
		want     domain.TestKind
		warning  bool
		cfgError bool
	}{
		{"no kind falls back to inference", "", false, domain.KindWAFProbe, false, false},
		{"same family refines", domain.KindSQLInjection, true, domain.KindSQLInjection, false, false},
		{"mismatch warns", domain.KindBruteForce, false, domain.KindBruteForce, true, false},
		{"mismatch rejected when strict", domain.KindBruteForce, true, "", false, true},
		{"unknown kind", "teleport", false, "", false, true},
		{"case insensitive", "SQL_INJECTION", true, domain.KindSQLInjection, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *payloadCfg
			cfg.Kind = tt.kind
			kind, _, warning, err := Resolve(&cfg, tt.strict)
			if tt.cfgError {
				if !domain.IsConfigError(err) {
					t.Fatalf("err = %v, want ConfigError", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if kind != tt.want {
				t.Errorf("kind = %s, want %s", kind, tt.want)
			}
			if (warning != "") != tt.warning {
				t.Errorf("warning = %q", warning)
			}
		})
	}
}

func TestResolveEmptyParametersNeverMismatch(t *testing.T) {
	cfg := &domain.TestConfiguration{TestID: "t", Domain: "a.test", Kind: domain.KindCrawler}
	kind, _, warning, err := Resolve(cfg, true)
	if err != nil || kind != domain.KindCrawler || warning != "" {
		t.Errorf("kind = %s warning = %q err = %v", kind, warning, err)
	}
}

func TestRouteConfigErrors(t *testing.T) {
	d := NewDispatcher(probe.NewEnv(probe.DefaultSettings()), false)
	tests := []struct {
		name string
		cfg  *domain.TestConfiguration
	}{
		{"nil", nil},
		{"missing domain", &domain.TestConfiguration{TestID: "t"}},
		{"zero burst", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{BurstRequests: intp(0)}}},
		{"bad port", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Port: intp(70000)}},
		{"bad encoding", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{Payloads: []string{"x"}, Encoding: "rot13"}}},
		{"bad injection point", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{Payloads: []string{"x"}, InjectionPoint: "cookie"}}},
		{"inverted id range", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{EnumTemplate: "/u/{id}", IDRange: []int{5, 1}}}},
		{"single id", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{EnumTemplate: "/u/{id}", IDRange: []int{5}}}},
		{"explicit kind missing payloads", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Kind: domain.KindXSS}},
		{"explicit brute without passwords", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Kind: domain.KindBruteForce, Parameters: domain.TestParameters{Username: "u"}}},
		{"bad method", &domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{Method: "BREW"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := d.Route(tt.cfg)
			if !domain.IsConfigError(err) {
				t.Fatalf("err = %v, want ConfigError", err)
			}
			if r != nil {
				t.Error("route returned alongside a config error")
			}
		})
	}
}

func TestRouteNormalizesShapes(t *testing.T) {
	settings := probe.DefaultSettings()
	d := NewDispatcher(probe.NewEnv(settings), false)

	burst, err := d.Route(&domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{
		BurstRequests: intp(50), Concurrency: intp(5), BurstIntervalMs: intp(50), TimeoutMs: intp(1500),
	}})
	if err != nil {
		t.Fatal(err)
	}
	fs, ok := burst.Shape.(domain.FloodShape)
	if !ok || fs.Mode != domain.FloodBurst || fs.Requests != 50 || fs.Concurrency != 5 || fs.Interval != 50*time.Millisecond {
		t.Errorf("flood shape = %+v", burst.Shape)
	}
	if burst.Timeout != 1500*time.Millisecond {
		t.Errorf("timeout = %s", burst.Timeout)
	}

	rate, err := d.Route(&domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{RPSTarget: intp(20)}})
	if err != nil {
		t.Fatal(err)
	}
	if rs := rate.Shape.(domain.FloodShape); rs.Mode != domain.FloodSustained || rs.Duration != defaultSustainedDuration {
		t.Errorf("sustained shape = %+v", rs)
	}

	udp, err := d.Route(&domain.TestConfiguration{TestID: "t", Domain: "https://a.test/x", Port: intp(53), Parameters: domain.TestParameters{Payloads: []string{"ping"}}})
	if err != nil {
		t.Fatal(err)
	}
	if us := udp.Shape.(domain.ReachabilityShape); us.Protocol != "udp" || us.Host != "a.test" || string(us.Payload) != "ping" {
		t.Errorf("reachability shape = %+v", us)
	}

	api, err := d.Route(&domain.TestConfiguration{TestID: "t", Domain: "a.test", Parameters: domain.TestParameters{EnumTemplate: "/u/{id}", IDRange: []int{1, 5}, StepSize: intp(2)}})
	if err != nil {
		t.Fatal(err)
	}
	as := api.Shape.(domain.APIShape)
	if as.IDStart != 1 || as.IDEnd != 5 || as.Step != 2 || as.Delay != settings.IterationDelay {
		t.Errorf("api shape = %+v", as)
	}

	traversal, err := d.Route(&domain.TestConfiguration{TestID: "t", Domain: "a.test", Kind: domain.KindPathTraversal, Parameters: domain.TestParameters{Payloads: []string{"../x"}}})
	if err != nil {
		t.Fatal(err)
	}
	if is := traversal.Shape.(domain.InjectionShape); is.Point != domain.PointPath || is.Encoding != domain.EncodingNone {
		t.Errorf("injection shape = %+v", is)
	}
}

func TestEveryKindHasAnExecutor(t *testing.T) {
	d := NewDispatcher(probe.NewEnv(probe.DefaultSettings()), false)
	kinds := []domain.TestKind{
		domain.KindHTTPBurst, domain.KindSustainedFlood, domain.KindUDPReachability, domain.KindTCPReachability,
		domain.KindPathTraversal, domain.KindCustomRules, domain.KindOversizedBody, domain.KindWAFProbe,
		domain.KindSQLInjection, domain.KindXSS, domain.KindAPIAuth, domain.KindBruteForce, domain.KindEnumeration,
		domain.KindSchemaValidation, domain.KindBusinessLogic, domain.KindCrawler, domain.KindUserAgent, domain.KindConnectivity,
	}
	for _, k := range kinds {
		if _, ok := d.executors[k.Family()]; !ok {
			t.Errorf("no executor for %s", k)
		}
	}
}
