package classify

import (
	"net/http"
	"strings"
)

type headerSignature struct {
	header   string // canonical or lower-case header name
	contains string // optional lower-case substring the value must contain
	category Category
	vendor   string
	detail   string
}

// headerSignatures is scanned in order so results are deterministic.
var headerSignatures = []headerSignature{
	{header: "cf-ray", category: CategoryCDN, vendor: "cloudflare", detail: "ray id present"},
	{header: "cf-cache-status", category: CategoryCDN, vendor: "cloudflare", detail: "cache status present"},
	{header: "cf-mitigated", contains: "challenge", category: CategoryBot, vendor: "cloudflare", detail: "challenge issued"},
	{header: "x-amz-cf-id", category: CategoryCDN, vendor: "cloudfront", detail: "request id present"},
	{header: "x-amzn-requestid", category: CategoryCDN, vendor: "aws", detail: "request id present"},
	{header: "x-amzn-waf-action", category: CategoryWAF, vendor: "aws-waf", detail: "waf action header"},
	{header: "x-akamai-request-id", category: CategoryCDN, vendor: "akamai", detail: "request id present"},
	{header: "akamai-grn", category: CategoryCDN, vendor: "akamai", detail: "grn present"},
	{header: "x-sucuri-id", category: CategoryWAF, vendor: "sucuri", detail: "firewall id present"},
	{header: "x-sucuri-block", category: CategoryWAF, vendor: "sucuri", detail: "block header"},
	{header: "x-iinfo", category: CategoryWAF, vendor: "imperva", detail: "incapsula info header"},
	{header: "x-cdn", contains: "incapsula", category: CategoryWAF, vendor: "imperva", detail: "incapsula cdn header"},
	{header: "x-datadome", category: CategoryBot, vendor: "datadome", detail: "bot protection header"},
	{header: "x-px-block", category: CategoryBot, vendor: "perimeterx", detail: "block header"},
	{header: "x-azure-ref", category: CategoryCDN, vendor: "azure-front-door", detail: "reference id present"},
	{header: "x-served-by", contains: "cache", category: CategoryCDN, vendor: "fastly", detail: "cache node header"},
	{header: "x-fastly-request-id", category: CategoryCDN, vendor: "fastly", detail: "request id present"},
	{header: "x-cache", category: CategoryCDN, detail: "cache header present"},
	{header: "server", contains: "cloudflare", category: CategoryCDN, vendor: "cloudflare", detail: "server header"},
	{header: "server", contains: "akamaighost", category: CategoryCDN, vendor: "akamai", detail: "server header"},
	{header: "server", contains: "awselb", category: CategoryCDN, vendor: "aws", detail: "load balancer server header"},
	{header: "server", contains: "sucuri", category: CategoryWAF, vendor: "sucuri", detail: "server header"},
	{header: "server", contains: "big-ip", category: CategoryWAF, vendor: "f5", detail: "server header"},
	{header: "server", contains: "imperva", category: CategoryWAF, vendor: "imperva", detail: "server header"},
	{header: "server", contains: "mod_security", category: CategoryWAF, vendor: "modsecurity", detail: "server header"},
	{header: "via", contains: "cloudfront", category: CategoryCDN, vendor: "cloudfront", detail: "via header"},
	{header: "via", contains: "varnish", category: CategoryCDN, vendor: "varnish", detail: "via header"},
	{header: "via", contains: "akamai", category: CategoryCDN, vendor: "akamai", detail: "via header"},
}

// Headers matches response headers against the vendor signature table.
// Names and values are compared case-insensitively.
func Headers(h http.Header) []Signal {
	if len(h) == 0 {
		return nil
	}
	lowered := make(map[string]string, len(h))
	for name, values := range h {
		lowered[strings.ToLower(name)] = strings.ToLower(strings.Join(values, ","))
	}

	var signals []Signal
	for _, sig := range headerSignatures {
		value, ok := lowered[sig.header]
		if !ok {
			continue
		}
		if sig.contains != "" && !strings.Contains(value, sig.contains) {
			continue
		}
		signals = append(signals, Signal{Source: "header", Category: sig.category, Vendor: sig.vendor, Detail: sig.header + " " + sig.detail})
	}
	return signals
}
