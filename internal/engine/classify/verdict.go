package classify

import (
	"github.com/pace-noge/defense-probe/internal/domain"
)

// blockedStatuses is per kind on purpose: "blocked" for a rate-limit probe
// is not the same set of codes as for a traversal probe.
var blockedStatuses = map[domain.TestKind][]int{
	domain.KindHTTPBurst:        {403, 429, 503},
	domain.KindSustainedFlood:   {403, 429, 503},
	domain.KindPathTraversal:    {403, 406},
	domain.KindCustomRules:      {403, 406},
	domain.KindWAFProbe:         {403, 406},
	domain.KindSQLInjection:     {403, 406},
	domain.KindXSS:              {403, 406},
	domain.KindOversizedBody:    {403, 413, 429},
	domain.KindAPIAuth:          {401, 403},
	domain.KindBruteForce:       {403, 423, 429},
	domain.KindEnumeration:      {401, 403, 429},
	domain.KindSchemaValidation: {400, 403, 415, 422},
	domain.KindBusinessLogic:    {403, 409, 429},
	domain.KindCrawler:          {403, 429, 503},
	domain.KindUserAgent:        {403, 429, 503},
}

// IsBlockedStatus reports whether code denotes a block for the given kind.
// Connectivity treats anything outside 2xx/3xx as blocked.
func IsBlockedStatus(kind domain.TestKind, code int) bool {
	codes, ok := blockedStatuses[kind]
	if !ok {
		return !IsSuccess(code)
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// IsSuccess reports whether code is 2xx or 3xx.
func IsSuccess(code int) bool {
	return code >= 200 && code < 400
}

// Verdict classifies one response. Bot-family kinds also count a challenge
// signal as a block.
func Verdict(kind domain.TestKind, code int, signals []Signal) domain.Verdict {
	if IsBlockedStatus(kind, code) {
		return domain.VerdictBlocked
	}
	if kind.Family() == domain.FamilyBot && Has(signals, CategoryBot) {
		return domain.VerdictBlocked
	}
	return domain.VerdictBypassed
}

// VerdictFromSuccessRate is the flood rule: above 90% success the traffic passed.
func VerdictFromSuccessRate(successRate float64) domain.Verdict {
	if successRate > 90 {
		return domain.VerdictBypassed
	}
	return domain.VerdictBlocked
}
