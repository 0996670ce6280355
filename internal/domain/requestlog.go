package domain

import (
	"fmt"
	"strings"
)

// String renders the request line the way it appears in domain logs.
func (r RequestLog) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s -> %d (%dms)", r.Method, r.URL, r.Status, r.DurationMs)
	if r.Blocked {
		b.WriteString(" [blocked]")
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%s", r.Error)
	}
	return b.String()
}
