package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/pace-noge/defense-probe/internal/domain"
)

func TestPathTraversalAllBlocked(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.RequestURI)
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	shape := domain.InjectionShape{
		Kind:     domain.KindPathTraversal,
		Payloads: []string{"../../../etc/passwd", `..\..\..\windows\system32`},
		Encoding: domain.EncodingNone,
		Point:    domain.PointPath,
	}
	job, _ := testJob(domain.KindPathTraversal, srv.URL, shape)
	res := NewInjectionExecutor(testEnv()).Execute(context.Background(), job)

	d := res.ResultDetails
	if len(d.PayloadsBlocked) != 2 || len(d.PayloadsPassed) != 0 {
		t.Fatalf("blocked = %v passed = %v", d.PayloadsBlocked, d.PayloadsPassed)
	}
	if d.SecurityEffectiveness != 100 {
		t.Errorf("securityEffectiveness = %v, want 100", d.SecurityEffectiveness)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED (blocked)", res.Status)
	}
	if len(paths) != 2 || !strings.Contains(paths[0], "../../../etc/passwd") {
		t.Errorf("traversal path was normalized before sending: %v", paths)
	}
}

func TestInjectionListsCoverEveryPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(strings.ToLower(r.URL.RawQuery), "union") {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payloads := []string{"' UNION SELECT 1--", "' OR '1'='1", "1; DROP TABLE users", "admin'--"}
	shape := domain.InjectionShape{Kind: domain.KindWAFProbe, Payloads: payloads, Encoding: domain.EncodingURL, Point: domain.PointQuery, Param: "id"}
	job, _ := testJob(domain.KindWAFProbe, srv.URL, shape)
	res := NewInjectionExecutor(testEnv()).Execute(context.Background(), job)

	d := res.ResultDetails
	if len(d.PayloadsBlocked)+len(d.PayloadsPassed) != len(payloads) {
		t.Fatalf("blocked %d + passed %d != %d", len(d.PayloadsBlocked), len(d.PayloadsPassed), len(payloads))
	}
	if len(d.PayloadsBlocked) != 1 || d.SecurityEffectiveness != 25 {
		t.Errorf("blocked = %v effectiveness = %v", d.PayloadsBlocked, d.SecurityEffectiveness)
	}
	if res.Status != domain.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS when any payload passed", res.Status)
	}
	if d.InjectionType != "sql_injection" {
		t.Errorf("injectionType = %q", d.InjectionType)
	}
}

func TestInjectionPoints(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		shape   domain.InjectionShape
		check   func(r *http.Request, body string) bool
	}{
		{
			name:  "query base64",
			shape: domain.InjectionShape{Point: domain.PointQuery, Param: "q", Encoding: domain.EncodingBase64},
			check: func(r *http.Request, _ string) bool { return r.URL.Query().Get("q") == "PHNjcmlwdD4=" },
		},
		{
			name:    "query base64 keeps plus",
			payload: "~~~>",
			shape:   domain.InjectionShape{Point: domain.PointQuery, Param: "q", Encoding: domain.EncodingBase64},
			check:   func(r *http.Request, _ string) bool { return r.URL.Query().Get("q") == "fn5+Pg==" },
		},
		{
			name:  "query raw",
			shape: domain.InjectionShape{Point: domain.PointQuery, Param: "q"},
			check: func(r *http.Request, _ string) bool { return r.URL.Query().Get("q") == "<script>" },
		},
		{
			name:  "header default name",
			shape: domain.InjectionShape{Point: domain.PointHeader},
			check: func(r *http.Request, _ string) bool { return r.Header.Get(DefaultPayloadHeader) == "<script>" },
		},
		{
			name:  "header named",
			shape: domain.InjectionShape{Point: domain.PointHeader, Param: "X-Forwarded-Host"},
			check: func(r *http.Request, _ string) bool { return r.Header.Get("X-Forwarded-Host") == "<script>" },
		},
		{
			name:  "body template",
			shape: domain.InjectionShape{Point: domain.PointBody, BodyTemplate: `{"comment":"{{payload}}"}`},
			check: func(r *http.Request, body string) bool {
				return r.Method == http.MethodPost && body == `{"comment":"<script>"}` && r.Header.Get("Content-Type") == "application/json"
			},
		},
		{
			name:  "body form",
			shape: domain.InjectionShape{Point: domain.PointBody, Param: "comment"},
			check: func(r *http.Request, body string) bool { return body == "comment=%3Cscript%3E" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok := false
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				ok = tt.check(r, string(b))
			}))
			defer srv.Close()

			shape := tt.shape
			shape.Kind = domain.KindXSS
			payload := tt.payload
			if payload == "" {
				payload = "<script>"
			}
			shape.Payloads = []string{payload}
			job, _ := testJob(domain.KindXSS, srv.URL, shape)
			NewInjectionExecutor(testEnv()).Execute(context.Background(), job)
			if !ok {
				t.Error("payload not placed as expected")
			}
		})
	}
}

func TestOversizedBody(t *testing.T) {
	var size int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		size = len(b)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	shape := domain.InjectionShape{Kind: domain.KindOversizedBody, BodySizeKB: 64}
	job, _ := testJob(domain.KindOversizedBody, srv.URL, shape)
	res := NewInjectionExecutor(testEnv()).Execute(context.Background(), job)

	if size < 64*1024 {
		t.Errorf("server received %d bytes, want at least 64KB", size)
	}
	d := res.ResultDetails
	if len(d.PayloadsBlocked) != 1 || d.PayloadsBlocked[0] != "oversized:64KB" {
		t.Errorf("blocked = %v", d.PayloadsBlocked)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED on 413", res.Status)
	}
}

func TestCustomRulesHeadersOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Debug") == "1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	shape := domain.InjectionShape{Kind: domain.KindCustomRules, Headers: map[string]string{"X-Debug": "1"}}
	job, _ := testJob(domain.KindCustomRules, srv.URL, shape)
	res := NewInjectionExecutor(testEnv()).Execute(context.Background(), job)

	d := res.ResultDetails
	if len(d.PayloadsPassed) != 1 || d.PayloadsPassed[0] != "headers:X-Debug=1" {
		t.Errorf("passed = %v", d.PayloadsPassed)
	}
	if res.Status != domain.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", res.Status)
	}
}

func TestEmptyPayloadEffectiveness(t *testing.T) {
	shape := domain.InjectionShape{Kind: domain.KindSQLInjection}
	job, _ := testJob(domain.KindSQLInjection, "example.invalid", shape)
	res := NewInjectionExecutor(testEnv()).Execute(context.Background(), job)
	if res.ResultDetails.SecurityEffectiveness != 0 {
		t.Errorf("effectiveness = %v, want 0", res.ResultDetails.SecurityEffectiveness)
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		enc  domain.Encoding
		in   string
		want string
	}{
		{domain.EncodingNone, "a b'", "a b'"},
		{domain.EncodingURL, "a b'", "a+b%27"},
		{domain.EncodingBase64, "a b'", "YSBiJw=="},
	}
	for _, tt := range tests {
		if got := Encode(tt.in, tt.enc); got != tt.want {
			t.Errorf("Encode(%q, %s) = %q, want %q", tt.in, tt.enc, got, tt.want)
		}
	}
}
