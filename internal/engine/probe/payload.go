package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// PayloadMarker is replaced by the encoded payload in body templates and paths.
const PayloadMarker = "{{payload}}"

// DefaultPayloadHeader carries header-point payloads when no target parameter is set.
const DefaultPayloadHeader = "X-Test-Payload"

// Encode applies the configured encoding to a payload.
func Encode(payload string, enc domain.Encoding) string {
	switch enc {
	case domain.EncodingURL:
		return url.QueryEscape(payload)
	case domain.EncodingBase64:
		return base64.StdEncoding.EncodeToString([]byte(payload))
	default:
		return payload
	}
}

// rawQueryEscaper keeps a raw payload intact except for bytes that would end
// the request line or start a fragment.
var rawQueryEscaper = strings.NewReplacer(" ", "%20", "#", "%23", "\r", "%0D", "\n", "%0A", "\t", "%09")

// headerSafe strips control characters the HTTP client refuses to send.
func headerSafe(v string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, v)
}

// InjectionRequest places an already encoded value at the shape's injection point.
func InjectionRequest(ctx context.Context, base string, shape domain.InjectionShape, value string) (*http.Request, error) {
	headers := make(map[string]string, len(shape.Headers)+1)
	for k, v := range shape.Headers {
		headers[k] = v
	}
	method := shape.Method

	var target, body string
	switch shape.Point {
	case domain.PointPath:
		if strings.Contains(shape.Path, PayloadMarker) {
			target = base + "/" + strings.TrimPrefix(strings.ReplaceAll(shape.Path, PayloadMarker, value), "/")
		} else {
			target = strings.TrimRight(JoinPath(base, shape.Path), "/") + "/" + value
		}
	case domain.PointHeader:
		name := shape.Param
		if name == "" {
			name = DefaultPayloadHeader
		}
		headers[name] = headerSafe(value)
		target = JoinPath(base, shape.Path)
	case domain.PointBody:
		if method == "" {
			method = http.MethodPost
		}
		target = JoinPath(base, shape.Path)
		if strings.Contains(shape.BodyTemplate, PayloadMarker) {
			body = strings.ReplaceAll(shape.BodyTemplate, PayloadMarker, value)
			if _, ok := lookupHeader(headers, "Content-Type"); !ok {
				headers["Content-Type"] = guessContentType(body)
			}
		} else {
			body = url.QueryEscape(paramName(shape.Param)) + "=" + url.QueryEscape(value)
			if _, ok := lookupHeader(headers, "Content-Type"); !ok {
				headers["Content-Type"] = "application/x-www-form-urlencoded"
			}
		}
	default:
		target = JoinPath(base, shape.Path)
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		if shape.Encoding == domain.EncodingBase64 {
			// a base64 "+" must not reach the target as a space
			value = url.QueryEscape(value)
		} else {
			value = rawQueryEscaper.Replace(value)
		}
		target += sep + url.QueryEscape(paramName(shape.Param)) + "=" + value
	}
	return newRequest(ctx, method, target, body, headers)
}

func paramName(p string) string {
	if p == "" {
		return "q"
	}
	return p
}

func lookupHeader(h map[string]string, name string) (string, bool) {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func guessContentType(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return "application/json"
	}
	if strings.HasPrefix(trimmed, "<") {
		return "application/xml"
	}
	return "text/plain"
}

// OversizedBody builds the synthetic payload for oversized-body probes:
// sizeKB kilobytes of filler, or fieldCount JSON fields when set.
func OversizedBody(sizeKB, fieldCount int) (label, body string) {
	if fieldCount > 0 {
		var b strings.Builder
		b.WriteString("{")
		for i := 0; i < fieldCount; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `"field_%d":"value_%d"`, i, i)
		}
		b.WriteString("}")
		return fmt.Sprintf("fields:%d", fieldCount), b.String()
	}
	filler := strings.Repeat("A", sizeKB*1024)
	return fmt.Sprintf("oversized:%dKB", sizeKB), `{"data":"` + filler + `"}`
}

// headerLabel renders configured headers deterministically for result lists.
func headerLabel(h map[string]string) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+h[k])
	}
	return "headers:" + strings.Join(parts, ",")
}
