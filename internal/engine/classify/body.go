package classify

import "strings"

// MaxBodyBytes is how much of a response body is ever inspected.
const MaxBodyBytes = 50 * 1024

var wafPhrases = []string{
	"access denied",
	"request blocked",
	"request rejected",
	"the requested url was rejected",
	"web application firewall",
	"attention required",
	"mod_security",
	"modsecurity",
	"not acceptable",
	"incident id",
	"support id",
	"sucuri website firewall",
	"blocked by",
	"security policy",
	"you have been blocked",
	"forbidden",
}

var botPhrases = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"checking your browser",
	"challenge-platform",
	"cf-chl",
	"just a moment",
	"verify you are human",
	"are you a robot",
	"ddos protection by",
	"please enable javascript and cookies",
	"bot detection",
}

// Body matches a response body (truncated to MaxBodyBytes) against the WAF
// block-page and bot-challenge dictionaries.
func Body(body string) []Signal {
	if body == "" {
		return nil
	}
	if len(body) > MaxBodyBytes {
		body = body[:MaxBodyBytes]
	}
	lower := strings.ToLower(body)

	var signals []Signal
	for _, phrase := range wafPhrases {
		if strings.Contains(lower, phrase) {
			signals = append(signals, Signal{Source: "body", Category: CategoryWAF, Detail: "block page phrase \"" + phrase + "\""})
		}
	}
	for _, phrase := range botPhrases {
		if strings.Contains(lower, phrase) {
			signals = append(signals, Signal{Source: "body", Category: CategoryBot, Detail: "challenge phrase \"" + phrase + "\""})
		}
	}
	return signals
}
