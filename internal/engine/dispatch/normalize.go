package dispatch

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/engine/probe"
)

// defaultSustainedDuration applies when only an RPS target is given.
const defaultSustainedDuration = 10 * time.Second

// Normalize turns the flattened parameter bag into the typed shape of kind.
// Missing or malformed required fields produce a ConfigError.
func Normalize(cfg *domain.TestConfiguration, kind domain.TestKind, s probe.Settings) (domain.Shape, error) {
	p := cfg.Parameters
	bad := func(field, reason string) error {
		return domain.NewConfigError(cfg.TestID, field, reason)
	}
	method, err := normalizeMethod(p.Method)
	if err != nil {
		return nil, bad("method", err.Error())
	}

	switch kind.Family() {
	case domain.FamilyFlood:
		shape := domain.FloodShape{
			Mode:        domain.FloodBurst,
			Concurrency: intOr(p.Concurrency, 1),
			Interval:    millis(p.BurstIntervalMs),
			Method:      method,
			Path:        p.TargetPath,
			Headers:     p.Headers,
			Body:        p.BodyTemplate,
		}
		if shape.Concurrency < 1 {
			return nil, bad("concurrency", "must be at least 1")
		}
		if kind == domain.KindHTTPBurst {
			shape.Requests = intOr(p.BurstRequests, 0)
			if shape.Requests < 1 {
				return nil, bad("burstRequests", "must be at least 1")
			}
			return shape, nil
		}
		shape.Mode = domain.FloodSustained
		shape.RPS = intOr(p.RPSTarget, 0)
		shape.Duration = time.Duration(intOr(p.DurationSeconds, 0)) * time.Second
		if shape.Duration <= 0 {
			if shape.RPS <= 0 {
				return nil, bad("durationSeconds", "must be positive")
			}
			shape.Duration = defaultSustainedDuration
		}
		if shape.RPS < 0 {
			return nil, bad("rpsTarget", "must not be negative")
		}
		return shape, nil

	case domain.FamilyReachability:
		if cfg.Port == nil {
			return nil, bad("port", "is required")
		}
		if *cfg.Port < 1 || *cfg.Port > 65535 {
			return nil, bad("port", "must be between 1 and 65535")
		}
		host := cfg.IPAddress
		if host == "" {
			host = probe.Host(cfg.Domain)
		}
		shape := domain.ReachabilityShape{Protocol: "tcp", Host: host, Port: *cfg.Port, Timeout: millis(p.TimeoutMs)}
		if kind == domain.KindUDPReachability {
			shape.Protocol = "udp"
			if len(p.Payloads) > 0 {
				shape.Payload = []byte(p.Payloads[0])
			}
		}
		return shape, nil

	case domain.FamilyInjection:
		enc, err := parseEncoding(p.Encoding)
		if err != nil {
			return nil, bad("encoding", err.Error())
		}
		point, err := parsePoint(p.InjectionPoint, kind)
		if err != nil {
			return nil, bad("injectionPoint", err.Error())
		}
		shape := domain.InjectionShape{
			Kind:         kind,
			Payloads:     p.Payloads,
			Encoding:     enc,
			Point:        point,
			Param:        p.TargetParam,
			Path:         p.TargetPath,
			Method:       method,
			Headers:      p.Headers,
			BodyTemplate: p.BodyTemplate,
			BodySizeKB:   intOr(p.BodySizeKB, 0),
			FieldCount:   intOr(p.FieldCount, 0),
		}
		switch kind {
		case domain.KindOversizedBody:
			if shape.BodySizeKB <= 0 && shape.FieldCount <= 0 {
				return nil, bad("bodySizeKb", "or fieldCount must be positive")
			}
		case domain.KindCustomRules:
			if len(shape.Headers) == 0 && len(shape.Payloads) == 0 {
				return nil, bad("headers", "are required")
			}
		default:
			if len(shape.Payloads) == 0 {
				return nil, bad("payloads", "must not be empty")
			}
		}
		return shape, nil

	case domain.FamilyAPIAbuse:
		delay := s.IterationDelay
		if p.RequestDelayMs != nil {
			if *p.RequestDelayMs < 0 {
				return nil, bad("requestDelayMs", "must not be negative")
			}
			delay = millis(p.RequestDelayMs)
		}
		shape := domain.APIShape{
			Kind:         kind,
			Method:       method,
			Path:         p.TargetPath,
			Headers:      p.Headers,
			BodyTemplate: p.BodyTemplate,
			Delay:        delay,
			AuthMode:     strings.ToLower(p.AuthMode),
			AuthToken:    p.AuthToken,
			Username:     p.Username,
			Passwords:    p.PasswordList,
			EnumTemplate: p.EnumTemplate,
			Step:         intOr(p.StepSize, 1),
			FuzzCases:    p.FuzzCases,
			ContentTypes: p.ContentTypes,
			ReplayCount:  intOr(p.ReplayCount, 2),
		}
		switch kind {
		case domain.KindBruteForce:
			if shape.Username == "" {
				return nil, bad("username", "is required")
			}
			if len(shape.Passwords) == 0 {
				return nil, bad("passwordList", "must not be empty")
			}
		case domain.KindEnumeration:
			if shape.EnumTemplate == "" {
				return nil, bad("enumTemplate", "is required")
			}
			if len(p.IDRange) != 2 {
				return nil, bad("idRange", "must be [start, end]")
			}
			shape.IDStart, shape.IDEnd = p.IDRange[0], p.IDRange[1]
			if shape.IDStart > shape.IDEnd {
				return nil, bad("idRange", "start must not exceed end")
			}
			if shape.Step < 1 {
				return nil, bad("stepSize", "must be at least 1")
			}
		case domain.KindSchemaValidation:
			if len(shape.FuzzCases) == 0 && len(shape.ContentTypes) == 0 {
				return nil, bad("fuzzCases", "or contentTypes are required")
			}
		case domain.KindBusinessLogic:
			if shape.ReplayCount < 1 {
				return nil, bad("replayCount", "must be at least 1")
			}
		}
		return shape, nil

	case domain.FamilyBot:
		shape := domain.BotShape{
			Kind:               kind,
			Profiles:           p.UAProfiles,
			FullBrowserHeaders: p.FullBrowserHeaders,
			Path:               p.TargetPath,
			CrawlDepth:         intOr(p.CrawlDepth, 1),
			MaxFetches:         intOr(p.MaxFetches, s.MaxCrawlFetches),
			RespectRobots:      p.RespectRobots != nil && *p.RespectRobots,
			AcceptCookies:      strings.EqualFold(p.CookiePolicy, "accept"),
		}
		if kind == domain.KindUserAgent && len(shape.Profiles) == 0 {
			return nil, bad("uaProfiles", "must not be empty")
		}
		if shape.CrawlDepth < 0 {
			return nil, bad("crawlDepth", "must not be negative")
		}
		return shape, nil

	default:
		return domain.ConnectivityShape{Method: method, Path: p.TargetPath, Headers: p.Headers}, nil
	}
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func millis(v *int) time.Duration {
	if v == nil || *v <= 0 {
		return 0
	}
	return time.Duration(*v) * time.Millisecond
}

var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodOptions: true, http.MethodTrace: true,
}

func normalizeMethod(m string) (string, error) {
	if m == "" {
		return "", nil
	}
	upper := strings.ToUpper(strings.TrimSpace(m))
	if !knownMethods[upper] {
		return "", errUnsupported(m)
	}
	return upper, nil
}

func parseEncoding(v string) (domain.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "none", "raw":
		return domain.EncodingNone, nil
	case "url", "urlencode", "url-encode":
		return domain.EncodingURL, nil
	case "base64", "b64":
		return domain.EncodingBase64, nil
	}
	return "", errUnsupported(v)
}

func parsePoint(v string, kind domain.TestKind) (domain.InjectionPoint, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		if kind == domain.KindPathTraversal {
			return domain.PointPath, nil
		}
		return domain.PointQuery, nil
	case "query", "param", "parameter":
		return domain.PointQuery, nil
	case "path":
		return domain.PointPath, nil
	case "header", "headers":
		return domain.PointHeader, nil
	case "body":
		return domain.PointBody, nil
	}
	return "", errUnsupported(v)
}

func errUnsupported(v string) error {
	return fmt.Errorf("unsupported value %q", v)
}
