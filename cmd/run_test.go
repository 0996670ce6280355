package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pace-noge/defense-probe/internal/domain"
)

func TestRootAppCommands(t *testing.T) {
	app := NewRootApp()
	for _, name := range []string{"run", "serve", "consume", "operator", "token"} {
		if app.Command(name) == nil {
			t.Errorf("missing command %s", name)
		}
	}
}

func TestLoadMapping(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    map[int][]string
		wantErr bool
	}{
		{"yaml", "0: [a.test]\n2:\n  - b.test\n  - c.test\n", map[int][]string{0: {"a.test"}, 2: {"b.test", "c.test"}}, false},
		{"json", `{"1": ["a.test"]}`, map[int][]string{1: {"a.test"}}, false},
		{"not a mapping", "- a.test\n", nil, true},
		{"non-numeric key", "first: [a.test]\n", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(file, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := loadMapping(file)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("mapping = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if strings.Join(got[k], ",") != strings.Join(v, ",") {
					t.Errorf("mapping[%d] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
	if _, err := loadMapping(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPrintSummary(t *testing.T) {
	run := &domain.Run{
		ID:       "run-1",
		PlanName: "smoke",
		Status:   "COMPLETED",
		Results: []*domain.TestResult{
			{Domain: "a.test", TestName: "xss", Status: domain.StatusFailed, ResultDetails: domain.TestResultDetails{Verdict: domain.VerdictBlocked, StatusCode: 403}},
			{Domain: "a.test", TestName: "flood", Status: domain.StatusSuccess, ResultDetails: domain.TestResultDetails{Verdict: domain.VerdictBypassed, StatusCode: 200}},
			{Domain: "b.test", TestName: "tcp", Status: domain.StatusFailed, ResultDetails: domain.TestResultDetails{Verdict: domain.VerdictBlocked, Error: "crashed"}},
		},
		Errors: []string{"invalid configuration for test t-4: domain is required"},
	}
	var buf bytes.Buffer
	printSummary(&buf, run)
	out := buf.String()

	for _, want := range []string{"DOMAIN", "xss", "error: crashed", "error: invalid configuration",
		"3 results, 1 blocked, 1 bypassed, 1 errored, 1 run errors"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintDomainLogsIncludesPlanTargets(t *testing.T) {
	run := &domain.Run{
		ID: "run-2",
		DomainLogs: map[string]string{
			"z.test": "=== Start domain: z.test ===\n=== End domain: z.test ===\n",
			"a.test": "=== Start domain: a.test ===\n=== End domain: a.test ===\n",
		},
	}
	var buf bytes.Buffer
	printDomainLogs(&buf, run)
	out := buf.String()
	a, z := strings.Index(out, "a.test"), strings.Index(out, "z.test")
	if a < 0 || z < 0 || a > z {
		t.Errorf("domain logs not printed in order:\n%s", out)
	}
}
