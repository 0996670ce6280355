package probe

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/pace-noge/defense-probe/internal/engine/timing"
)

// ClientOptions tune the per-test HTTP client.
type ClientOptions struct {
	Connections     int
	IPOverride      string // dial this address instead of resolving the host
	Jar             http.CookieJar
	FollowRedirects bool
	Timeout         time.Duration // per-call override of the read timeout
}

// NewHTTPClient builds an instrumented client. Each call gets its own
// connect and read timeouts independent of the overall test timeout.
func (e *Env) NewHTTPClient(opts ClientOptions, events *timing.EventLog) *http.Client {
	s := e.Settings
	readTimeout := s.ReadTimeout
	if opts.Timeout > 0 {
		readTimeout = opts.Timeout
	}
	maxConnections := opts.Connections
	if maxConnections < 1 {
		maxConnections = 1
	}

	dialer := &net.Dialer{Timeout: s.ConnectTimeout, KeepAlive: 30 * time.Second}
	dial := dialer.DialContext
	if opts.IPOverride != "" {
		override := opts.IPOverride
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(override, port))
		}
	}

	transport := &http.Transport{
		DialContext:           dial,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: s.InsecureTLS},
		TLSHandshakeTimeout:   s.ConnectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          maxConnections,
		MaxIdleConnsPerHost:   maxConnections,
		MaxConnsPerHost:       maxConnections,
		IdleConnTimeout:       90 * time.Second,
	}
	if s.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Printf("Warning: Failed to configure HTTP/2: %v", err)
		}
	} else {
		transport.TLSNextProto = make(map[string]func(authority string, c *tls.Conn) http.RoundTripper)
	}

	client := &http.Client{
		Transport: &timing.Transport{Base: transport, Log: events},
		Timeout:   s.ConnectTimeout + readTimeout,
		Jar:       opts.Jar,
	}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// BaseURL turns a configured domain into an origin URL. Bare hosts default to https.
func BaseURL(domain string) string {
	d := strings.TrimSpace(domain)
	if !strings.Contains(d, "://") {
		d = "https://" + d
	}
	return strings.TrimRight(d, "/")
}

// Host returns the host part of a configured domain without scheme or port.
func Host(domain string) string {
	u, err := url.Parse(BaseURL(domain))
	if err != nil || u.Hostname() == "" {
		return strings.TrimSpace(domain)
	}
	return u.Hostname()
}

// JoinPath appends path to base, keeping the path verbatim (dot segments included).
func JoinPath(base, path string) string {
	if path == "" {
		return base + "/"
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}
