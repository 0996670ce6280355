// Package dispatch routes a TestConfiguration to exactly one executor. The
// explicit kind on the configuration is authoritative; the presence-based
// inference is kept to validate it and to route legacy configurations.
package dispatch

import (
	"strings"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// Infer applies the legacy priority-ordered predicate chain. First match wins.
func Infer(cfg *domain.TestConfiguration) domain.TestKind {
	p := cfg.Parameters
	hasPayloads := len(p.Payloads) > 0

	switch {
	case p.BurstRequests != nil:
		return domain.KindHTTPBurst
	case p.RPSTarget != nil || (p.Concurrency != nil && p.DurationSeconds != nil):
		return domain.KindSustainedFlood
	case cfg.Port != nil && hasPayloads:
		return domain.KindUDPReachability
	case cfg.Port != nil:
		return domain.KindTCPReachability
	case hasPayloads && strings.EqualFold(p.InjectionPoint, string(domain.PointPath)):
		return domain.KindPathTraversal
	case headersOnly(p):
		return domain.KindCustomRules
	case p.BodySizeKB != nil || p.FieldCount != nil:
		return domain.KindOversizedBody
	case hasPayloads:
		return domain.KindWAFProbe
	case p.AuthMode != "" || p.AuthToken != "":
		return domain.KindAPIAuth
	case p.Username != "" && len(p.PasswordList) > 0:
		return domain.KindBruteForce
	case p.EnumTemplate != "" && len(p.IDRange) > 0:
		return domain.KindEnumeration
	case len(p.FuzzCases) > 0 || len(p.ContentTypes) > 0:
		return domain.KindSchemaValidation
	case p.ReplayCount != nil || p.RequestDelayMs != nil:
		return domain.KindBusinessLogic
	case p.CrawlDepth != nil || p.RespectRobots != nil:
		return domain.KindCrawler
	case len(p.UAProfiles) > 0:
		return domain.KindUserAgent
	default:
		return domain.KindConnectivity
	}
}

// headersOnly reports a parameter set whose only kind-specific content is a
// header map. Headers accompanying any other kind's fields do not count, so
// an auth or replay probe with extra headers is not misread as a rules probe.
func headersOnly(p domain.TestParameters) bool {
	if len(p.Headers) == 0 {
		return false
	}
	return len(p.Payloads) == 0 && p.BodySizeKB == nil && p.FieldCount == nil &&
		p.AuthMode == "" && p.AuthToken == "" && p.Username == "" && len(p.PasswordList) == 0 &&
		p.EnumTemplate == "" && len(p.IDRange) == 0 && len(p.FuzzCases) == 0 && len(p.ContentTypes) == 0 &&
		p.ReplayCount == nil && p.RequestDelayMs == nil && p.CrawlDepth == nil && p.RespectRobots == nil &&
		len(p.UAProfiles) == 0
}
