package classify

import "strings"

var injectionKeywords = []struct {
	kind     string
	keywords []string
}{
	{"sql_injection", []string{"union select", "select ", "' or", "\" or", "or 1=1", "--", "sleep(", "benchmark(", "drop table", "waitfor delay", "information_schema"}},
	{"xss", []string{"<script", "javascript:", "onerror=", "onload=", "alert(", "<svg", "<img", "document.cookie"}},
	{"path_traversal", []string{"../", "..\\", "%2e%2e", "/etc/passwd", "win.ini", "system32"}},
	{"command_injection", []string{"; ls", "| cat", "$(", "`id`", "&& whoami"}},
}

// InjectionType infers the attack class from payload content. The class with
// the most matching payloads wins; ties go to the earlier class.
func InjectionType(payloads []string) string {
	best, bestCount := "generic", 0
	for _, group := range injectionKeywords {
		count := 0
		for _, p := range payloads {
			lower := strings.ToLower(p)
			for _, kw := range group.keywords {
				if strings.Contains(lower, kw) {
					count++
					break
				}
			}
		}
		if count > bestCount {
			best, bestCount = group.kind, count
		}
	}
	return best
}
