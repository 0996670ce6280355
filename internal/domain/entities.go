package domain

import (
	"time"
)

// TestKind is the explicit discriminant of a test configuration.
type TestKind string

const (
	KindHTTPBurst        TestKind = "http_burst"
	KindSustainedFlood   TestKind = "sustained_flood"
	KindUDPReachability  TestKind = "udp_reachability"
	KindTCPReachability  TestKind = "tcp_reachability"
	KindPathTraversal    TestKind = "path_traversal"
	KindCustomRules      TestKind = "custom_rules"
	KindOversizedBody    TestKind = "oversized_body"
	KindWAFProbe         TestKind = "waf_probe"
	KindSQLInjection     TestKind = "sql_injection"
	KindXSS              TestKind = "xss"
	KindAPIAuth          TestKind = "api_auth"
	KindBruteForce       TestKind = "brute_force"
	KindEnumeration      TestKind = "enumeration"
	KindSchemaValidation TestKind = "schema_validation"
	KindBusinessLogic    TestKind = "business_logic"
	KindCrawler          TestKind = "crawler"
	KindUserAgent        TestKind = "user_agent"
	KindConnectivity     TestKind = "connectivity"
)

// Family groups kinds that share one executor.
type Family string

const (
	FamilyFlood        Family = "flood"
	FamilyInjection    Family = "injection"
	FamilyReachability Family = "reachability"
	FamilyAPIAbuse     Family = "api_abuse"
	FamilyBot          Family = "bot"
	FamilyConnectivity Family = "connectivity"
)

// Family returns the executor family for the kind. Unknown kinds map to connectivity.
func (k TestKind) Family() Family {
	switch k {
	case KindHTTPBurst, KindSustainedFlood:
		return FamilyFlood
	case KindUDPReachability, KindTCPReachability:
		return FamilyReachability
	case KindPathTraversal, KindCustomRules, KindOversizedBody, KindWAFProbe, KindSQLInjection, KindXSS:
		return FamilyInjection
	case KindAPIAuth, KindBruteForce, KindEnumeration, KindSchemaValidation, KindBusinessLogic:
		return FamilyAPIAbuse
	case KindCrawler, KindUserAgent:
		return FamilyBot
	default:
		return FamilyConnectivity
	}
}

// Valid reports whether k is one of the known kinds.
func (k TestKind) Valid() bool {
	switch k {
	case KindHTTPBurst, KindSustainedFlood, KindUDPReachability, KindTCPReachability,
		KindPathTraversal, KindCustomRules, KindOversizedBody, KindWAFProbe, KindSQLInjection,
		KindXSS, KindAPIAuth, KindBruteForce, KindEnumeration, KindSchemaValidation,
		KindBusinessLogic, KindCrawler, KindUserAgent, KindConnectivity:
		return true
	}
	return false
}

// Status is the persisted outcome of a test unit.
//
// The values are inverted relative to ordinary test semantics:
// StatusFailed means the target's defensive control BLOCKED the probe (a good
// security outcome), StatusSuccess means the probe traffic BYPASSED the
// defenses. Always derive it from a Verdict via StatusFromVerdict.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Verdict is the engine's unambiguous defense classification.
type Verdict string

const (
	VerdictBlocked  Verdict = "blocked"
	VerdictBypassed Verdict = "bypassed"
)

// StatusFromVerdict maps blocked to FAILED and bypassed to SUCCESS.
func StatusFromVerdict(v Verdict) Status {
	if v == VerdictBypassed {
		return StatusSuccess
	}
	return StatusFailed
}

// TestParameters is the flattened wire form of every test kind's inputs.
// Only the fields of one kind should be populated; presence is the legacy
// dispatch signal.
type TestParameters struct {
	// flood / volume
	BurstRequests   *int `json:"burstRequests,omitempty" yaml:"burstRequests,omitempty"`
	BurstIntervalMs *int `json:"burstIntervalMs,omitempty" yaml:"burstIntervalMs,omitempty"`
	Concurrency     *int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	DurationSeconds *int `json:"durationSeconds,omitempty" yaml:"durationSeconds,omitempty"`
	RPSTarget       *int `json:"rpsTarget,omitempty" yaml:"rpsTarget,omitempty"`

	// injection / WAF
	Payloads       []string          `json:"payloads,omitempty" yaml:"payloads,omitempty"`
	Encoding       string            `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	InjectionPoint string            `json:"injectionPoint,omitempty" yaml:"injectionPoint,omitempty"`
	TargetParam    string            `json:"targetParam,omitempty" yaml:"targetParam,omitempty"`
	TargetPath     string            `json:"targetPath,omitempty" yaml:"targetPath,omitempty"`
	Method         string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	BodyTemplate   string            `json:"bodyTemplate,omitempty" yaml:"bodyTemplate,omitempty"`
	BodySizeKB     *int              `json:"bodySizeKb,omitempty" yaml:"bodySizeKb,omitempty"`
	FieldCount     *int              `json:"fieldCount,omitempty" yaml:"fieldCount,omitempty"`

	// API abuse
	AuthMode       string   `json:"authMode,omitempty" yaml:"authMode,omitempty"`
	AuthToken      string   `json:"authToken,omitempty" yaml:"authToken,omitempty"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	PasswordList   []string `json:"passwordList,omitempty" yaml:"passwordList,omitempty"`
	EnumTemplate   string   `json:"enumTemplate,omitempty" yaml:"enumTemplate,omitempty"`
	IDRange        []int    `json:"idRange,omitempty" yaml:"idRange,omitempty"`
	StepSize       *int     `json:"stepSize,omitempty" yaml:"stepSize,omitempty"`
	FuzzCases      []string `json:"fuzzCases,omitempty" yaml:"fuzzCases,omitempty"`
	ContentTypes   []string `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty"`
	ReplayCount    *int     `json:"replayCount,omitempty" yaml:"replayCount,omitempty"`
	RequestDelayMs *int     `json:"requestDelayMs,omitempty" yaml:"requestDelayMs,omitempty"`

	// bot simulation
	UAProfiles         []string `json:"uaProfiles,omitempty" yaml:"uaProfiles,omitempty"`
	FullBrowserHeaders bool     `json:"fullBrowserHeaders,omitempty" yaml:"fullBrowserHeaders,omitempty"`
	CrawlDepth         *int     `json:"crawlDepth,omitempty" yaml:"crawlDepth,omitempty"`
	MaxFetches         *int     `json:"maxFetches,omitempty" yaml:"maxFetches,omitempty"`
	RespectRobots      *bool    `json:"respectRobots,omitempty" yaml:"respectRobots,omitempty"`
	CookiePolicy       string   `json:"cookiePolicy,omitempty" yaml:"cookiePolicy,omitempty"`

	TimeoutMs *int `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// TestConfiguration identifies one unit of work. Immutable once handed to the engine.
type TestConfiguration struct {
	TestID     string         `json:"testId"`
	Name       string         `json:"name,omitempty"`
	Category   string         `json:"category,omitempty"`
	Type       string         `json:"type,omitempty"`
	Kind       TestKind       `json:"kind,omitempty"`
	Domain     string         `json:"domain"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	Port       *int           `json:"port,omitempty"`
	Parameters TestParameters `json:"parameters"`
}

// TimingMetrics holds per-phase durations. A nil field means the phase was not
// observed or its timestamps were invalid.
type TimingMetrics struct {
	DNSMs  *int64 `json:"dnsMs,omitempty"`
	TCPMs  *int64 `json:"tcpMs,omitempty"`
	SSLMs  *int64 `json:"sslMs,omitempty"`
	TTFBMs *int64 `json:"ttfbMs,omitempty"`
}

// Empty reports whether no phase was measured.
func (t TimingMetrics) Empty() bool {
	return t.DNSMs == nil && t.TCPMs == nil && t.SSLMs == nil && t.TTFBMs == nil
}

// TestResultDetails is the superset metrics bag; fields are populated per kind.
type TestResultDetails struct {
	Verdict         Verdict           `json:"verdict"`
	StatusCode      int               `json:"statusCode"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Timing          *TimingMetrics    `json:"timing,omitempty"`
	StatusCodes     map[string]int    `json:"statusCodes,omitempty"`

	// volume
	TotalRequests     int     `json:"totalRequests,omitempty"`
	SuccessCount      int     `json:"successCount,omitempty"`
	ErrorCount        int     `json:"errorCount,omitempty"`
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty"`
	SuccessRate       float64 `json:"successRate"`
	ErrorRate         float64 `json:"errorRate,omitempty"`
	// LatencyP50Ms is the arithmetic mean of recorded latencies, kept under the
	// historical "p50" name.
	LatencyP50Ms float64 `json:"latencyP50Ms,omitempty"`
	LatencyP95Ms float64 `json:"latencyP95Ms,omitempty"`

	// injection
	PayloadsBlocked       []string `json:"payloadsBlocked,omitempty"`
	PayloadsPassed        []string `json:"payloadsPassed,omitempty"`
	SecurityEffectiveness float64  `json:"securityEffectiveness,omitempty"`
	InjectionType         string   `json:"injectionType,omitempty"`

	// signatures
	WAFSignals        []string `json:"wafSignals,omitempty"`
	BotSignals        []string `json:"botSignals,omitempty"`
	WAFScore          int      `json:"wafScore,omitempty"`
	BotScore          int      `json:"botScore,omitempty"`
	ChallengeDetected bool     `json:"challengeDetected,omitempty"`

	// reachability
	ConnectionsSucceeded int `json:"connectionsSucceeded,omitempty"`
	ConnectionsFailed    int `json:"connectionsFailed,omitempty"`

	// API abuse
	AttemptsSucceeded int      `json:"attemptsSucceeded,omitempty"`
	ThrottledCount    int      `json:"throttledCount,omitempty"`
	IDsVisited        []int    `json:"idsVisited,omitempty"`
	ExposedIDs        []int    `json:"exposedIds,omitempty"`
	AcceptedCases     []string `json:"acceptedCases,omitempty"`
	RejectedCases     []string `json:"rejectedCases,omitempty"`

	// bot
	ChallengedProfiles []string `json:"challengedProfiles,omitempty"`
	PassedProfiles     []string `json:"passedProfiles,omitempty"`
	PagesCrawled       int      `json:"pagesCrawled,omitempty"`
	CrawledURLs        []string `json:"crawledUrls,omitempty"`

	Params      *TestParameters `json:"params,omitempty"`
	NetworkLogs []string        `json:"networkLogs,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// TestResult is produced once at the end of an executor run and never mutated afterwards.
type TestResult struct {
	TestID        string            `json:"testId"`
	TestName      string            `json:"testName"`
	Category      string            `json:"category"`
	Type          string            `json:"type"`
	Domain        string            `json:"domain"`
	IPAddress     string            `json:"ipAddress,omitempty"`
	Status        Status            `json:"status"`
	StartTime     time.Time         `json:"startTime"`
	EndTime       time.Time         `json:"endTime"`
	Duration      int64             `json:"duration"` // milliseconds
	CreditsUsed   int               `json:"creditsUsed"`
	ResultDetails TestResultDetails `json:"resultDetails"`
	RawLogs       string            `json:"rawLogs,omitempty"`
}

// TestSpec is one domain-agnostic entry of a plan.
type TestSpec struct {
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Category string         `json:"category" yaml:"category"`
	Type     string         `json:"type" yaml:"type"`
	Kind     TestKind       `json:"kind,omitempty" yaml:"kind,omitempty"`
	Target   string         `json:"target,omitempty" yaml:"target,omitempty"`
	Port     *int           `json:"port,omitempty" yaml:"port,omitempty"`
	Params   TestParameters `json:"params" yaml:"params"`
}

// Plan is an ordered list of test specs.
type Plan struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Tests       []TestSpec `json:"tests" yaml:"tests"`
}

// Run tracks one fan-out execution of a plan.
type Run struct {
	ID         string            `json:"id"`
	PlanName   string            `json:"planName"`
	Domains    []string          `json:"domains"`
	Status     string            `json:"status"` // PENDING, RUNNING, COMPLETED, FAILED
	CreatedAt  time.Time         `json:"createdAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Results    []*TestResult     `json:"results"`
	DomainLogs map[string]string `json:"domainLogs"`
	Errors     []string          `json:"errors,omitempty"`
}
