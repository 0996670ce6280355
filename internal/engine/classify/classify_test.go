package classify

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pace-noge/defense-probe/internal/domain"
)

func TestLatency(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		wantMean float64
		wantP95  float64
	}{
		{"empty", nil, 0, 0},
		{"single", []float64{42}, 42, 42},
		{"unsorted", []float64{5, 1, 3}, 3, 5},
		{"twenty", []float64{20, 19, 18, 17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, 10.5, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]float64(nil), tt.samples...)
			mean, p95 := Latency(tt.samples)
			if mean != tt.wantMean || p95 != tt.wantP95 {
				t.Errorf("Latency = (%v, %v), want (%v, %v)", mean, p95, tt.wantMean, tt.wantP95)
			}
			for i := range before {
				if before[i] != tt.samples[i] {
					t.Fatalf("input modified: %v", tt.samples)
				}
			}
		})
	}
}

func TestP95Index(t *testing.T) {
	for n, want := range map[int]int{1: 0, 2: 1, 10: 9, 20: 19, 100: 95} {
		if got := P95Index(n); got != want {
			t.Errorf("P95Index(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestRates(t *testing.T) {
	if got := RequestsPerSecond(50, 0); got != 0 {
		t.Errorf("RequestsPerSecond with zero duration = %v", got)
	}
	if got := RequestsPerSecond(50, 2000); got != 25 {
		t.Errorf("RequestsPerSecond = %v, want 25", got)
	}
	if got := Percent(3, 0); got != 0 {
		t.Errorf("Percent with zero whole = %v", got)
	}
	if got := Percent(1, 4); got != 25 {
		t.Errorf("Percent = %v, want 25", got)
	}
}

func TestIsBlockedStatus(t *testing.T) {
	tests := []struct {
		kind domain.TestKind
		code int
		want bool
	}{
		{domain.KindHTTPBurst, 429, true},
		{domain.KindHTTPBurst, 406, false},
		{domain.KindSQLInjection, 406, true},
		{domain.KindSQLInjection, 429, false},
		{domain.KindOversizedBody, 413, true},
		{domain.KindAPIAuth, 401, true},
		{domain.KindBruteForce, 423, true},
		{domain.KindSchemaValidation, 422, true},
		{domain.KindBusinessLogic, 409, true},
		{domain.KindCrawler, 503, true},
		{domain.KindUserAgent, 200, false},
		{domain.KindConnectivity, 500, true},
		{domain.KindConnectivity, 302, false},
	}
	for _, tt := range tests {
		if got := IsBlockedStatus(tt.kind, tt.code); got != tt.want {
			t.Errorf("IsBlockedStatus(%s, %d) = %v, want %v", tt.kind, tt.code, got, tt.want)
		}
	}
}

func TestVerdict(t *testing.T) {
	challenge := []Signal{{Source: "body", Category: CategoryBot, Detail: "captcha"}}
	tests := []struct {
		name    string
		kind    domain.TestKind
		code    int
		signals []Signal
		want    domain.Verdict
	}{
		{"blocked status", domain.KindXSS, 403, nil, domain.VerdictBlocked},
		{"passed through", domain.KindXSS, 200, nil, domain.VerdictBypassed},
		{"challenge blocks a crawler", domain.KindCrawler, 200, challenge, domain.VerdictBlocked},
		{"challenge ignored for injection", domain.KindXSS, 200, challenge, domain.VerdictBypassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verdict(tt.kind, tt.code, tt.signals); got != tt.want {
				t.Errorf("Verdict = %s, want %s", got, tt.want)
			}
		})
	}

	if VerdictFromSuccessRate(90) != domain.VerdictBlocked {
		t.Error("90% success should count as blocked")
	}
	if VerdictFromSuccessRate(90.5) != domain.VerdictBypassed {
		t.Error("90.5% success should count as bypassed")
	}
}

func TestBody(t *testing.T) {
	page := "<html><title>Just a moment...</title>Access Denied. Checking your browser</html>"
	first, second := Body(page), Body(page)
	if strings.Join(Strings(first, ""), "|") != strings.Join(Strings(second, ""), "|") {
		t.Fatalf("Body not deterministic: %v vs %v", first, second)
	}
	if !Has(first, CategoryWAF) || !Has(first, CategoryBot) {
		t.Errorf("signals = %v", first)
	}
	if got := len(Strings(first, CategoryBot)); got != 2 {
		t.Errorf("bot signals = %d, want 2", got)
	}

	if Body("") != nil {
		t.Error("empty body produced signals")
	}
	late := strings.Repeat("a", MaxBodyBytes) + "access denied"
	if signals := Body(late); len(signals) != 0 {
		t.Errorf("phrase past the inspection limit matched: %v", signals)
	}
}

func TestHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("CF-Ray", "7d1f-LHR")
	h.Set("Server", "cloudflare")
	h.Set("Cf-Mitigated", "Challenge")
	h.Set("X-Served-By", "origin-1")

	signals := Headers(h)
	if len(signals) != 3 {
		t.Fatalf("signals = %v", signals)
	}
	if !Has(signals, CategoryBot) || Has(signals, CategoryWAF) {
		t.Errorf("categories = %v", signals)
	}
	for _, s := range signals {
		if s.Vendor != "cloudflare" || s.Source != "header" {
			t.Errorf("signal = %+v", s)
		}
	}
	if Headers(nil) != nil {
		t.Error("nil headers produced signals")
	}
}

func TestScore(t *testing.T) {
	var signals []Signal
	for i := 0; i < 7; i++ {
		signals = append(signals, Signal{Source: "header", Category: CategoryCDN, Detail: strings.Repeat("x", i+1)})
	}
	signals = append(signals, signals[0])
	if got := Score(signals[:2], CategoryCDN); got != 40 {
		t.Errorf("Score = %d, want 40", got)
	}
	if got := Score(signals, CategoryCDN); got != 100 {
		t.Errorf("Score = %d, want capped 100", got)
	}
	if got := Score(signals, CategoryWAF); got != 0 {
		t.Errorf("Score for absent category = %d", got)
	}
}

func TestInjectionType(t *testing.T) {
	tests := []struct {
		name     string
		payloads []string
		want     string
	}{
		{"sql", []string{"' OR 1=1 --", "1 UNION SELECT password FROM users"}, "sql_injection"},
		{"xss", []string{"<script>alert(1)</script>", "<img src=x onerror=alert(1)>"}, "xss"},
		{"traversal", []string{"../../etc/passwd"}, "path_traversal"},
		{"command", []string{"$(whoami)"}, "command_injection"},
		{"majority wins", []string{"<svg onload=x>", "<script>", "../x"}, "xss"},
		{"tie goes to earlier class", []string{"<script>", "../x"}, "xss"},
		{"nothing recognised", []string{"hello"}, "generic"},
		{"empty", nil, "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InjectionType(tt.payloads); got != tt.want {
				t.Errorf("InjectionType = %s, want %s", got, tt.want)
			}
		})
	}
}
