// Package export holds the artifact formats consumed outside the engine:
// JSON results and plans, YAML plans and the plain-text timeline.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pace-noge/defense-probe/internal/domain"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain; charset=utf-8"
)

// Artifact is one exported file.
type Artifact struct {
	Key         string
	ContentType string
	Data        []byte
}

// MarshalResult renders a result in the export JSON format.
func MarshalResult(r *domain.TestResult) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result %s: %w", r.TestID, err)
	}
	return data, nil
}

// UnmarshalResult parses the export JSON format.
func UnmarshalResult(data []byte) (*domain.TestResult, error) {
	var r domain.TestResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &r, nil
}

// MarshalPlan renders a plan as JSON.
func MarshalPlan(p *domain.Plan) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// ParsePlan decodes a plan. format is "json" or "yaml"; anything else is
// sniffed from the first non-blank character.
func ParsePlan(data []byte, format string) (*domain.Plan, error) {
	var p domain.Plan
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON plan: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse YAML plan: %w", err)
		}
	default:
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "{") {
			return ParsePlan(data, "json")
		}
		return ParsePlan(data, "yaml")
	}
	if len(p.Tests) == 0 {
		return nil, fmt.Errorf("plan %q has no tests", p.Name)
	}
	return &p, nil
}

// LoadPlan reads a plan file; the extension picks the format.
func LoadPlan(file string) (*domain.Plan, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", file, err)
	}
	return ParsePlan(data, strings.TrimPrefix(filepath.Ext(file), "."))
}

// ResultArtifacts returns the JSON result and its timeline, keyed by domain
// and test id.
func ResultArtifacts(r *domain.TestResult) ([]Artifact, error) {
	data, err := MarshalResult(r)
	if err != nil {
		return nil, err
	}
	base := path.Join("results", sanitize(r.Domain), r.TestID)
	out := []Artifact{{Key: base + ".json", ContentType: ContentTypeJSON, Data: data}}
	if r.RawLogs != "" {
		out = append(out, Artifact{Key: base + ".log", ContentType: ContentTypeText, Data: []byte(r.RawLogs)})
	}
	return out, nil
}

// sanitize keeps object keys flat when the domain is a full URL.
func sanitize(d string) string {
	d = strings.TrimPrefix(strings.TrimPrefix(d, "https://"), "http://")
	d = strings.Trim(d, "/")
	if d == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", ":", "_", "?", "_", "#", "_").Replace(d)
}
