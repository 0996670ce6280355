// Package classify turns raw HTTP/socket outcomes into defense signals and
// verdicts. Every function here is pure: same input, same output.
package classify

import "fmt"

// Category tells what kind of control a signal points at.
type Category string

const (
	CategoryCDN Category = "cdn"
	CategoryWAF Category = "waf"
	CategoryBot Category = "bot"
)

// Signal is a descriptive observation, not a verdict.
type Signal struct {
	Source   string   `json:"source"` // "header" or "body"
	Category Category `json:"category"`
	Vendor   string   `json:"vendor,omitempty"`
	Detail   string   `json:"detail"`
}

func (s Signal) String() string {
	if s.Vendor == "" {
		return fmt.Sprintf("%s/%s: %s", s.Category, s.Source, s.Detail)
	}
	return fmt.Sprintf("%s/%s: %s (%s)", s.Category, s.Source, s.Detail, s.Vendor)
}

// Strings renders signals of the given category, preserving order and
// dropping duplicates. An empty category keeps every signal.
func Strings(signals []Signal, category Category) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range signals {
		if category != "" && s.Category != category {
			continue
		}
		str := s.String()
		if seen[str] {
			continue
		}
		seen[str] = true
		out = append(out, str)
	}
	return out
}

// Score is 20 points per distinct signal of the category, capped at 100.
func Score(signals []Signal, category Category) int {
	score := 20 * len(Strings(signals, category))
	if score > 100 {
		return 100
	}
	return score
}

// Has reports whether any signal belongs to the category.
func Has(signals []Signal, category Category) bool {
	for _, s := range signals {
		if s.Category == category {
			return true
		}
	}
	return false
}
