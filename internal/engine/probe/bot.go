package probe

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"

	"github.com/pace-noge/defense-probe/internal/domain"
)

// MaxCrawlDepth bounds how many link hops the crawler follows.
const MaxCrawlDepth = 2

// userAgents maps profile aliases to full UA strings. Unknown profiles are sent verbatim.
var userAgents = map[string]string{
	"googlebot":       "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	"bingbot":         "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)",
	"curl":            "curl/8.4.0",
	"python-requests": "python-requests/2.31.0",
	"headless-chrome": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36",
	"chrome":          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"firefox":         "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"safari":          "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"mobile":          "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
}

// UserAgent resolves a profile alias.
func UserAgent(profile string) string {
	if ua, ok := userAgents[strings.ToLower(strings.TrimSpace(profile))]; ok {
		return ua
	}
	return profile
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Cache-Control":             "no-cache",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
}

var hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*["']([^"'#]+)`)

// BotExecutor runs user-agent probes and the bounded crawler.
type BotExecutor struct {
	env *Env
}

// NewBotExecutor creates a new bot executor.
func NewBotExecutor(env *Env) *BotExecutor {
	return &BotExecutor{env: env}
}

// Execute implements Executor.
func (x *BotExecutor) Execute(ctx context.Context, job *Job) *domain.TestResult {
	rec := newRecorder(job)
	shape, ok := job.Shape.(domain.BotShape)
	if !ok {
		rec.fail(fmt.Errorf("bot executor received %T", job.Shape))
		return rec.finish(domain.VerdictBlocked)
	}
	if shape.Kind == domain.KindCrawler {
		return x.crawl(ctx, job, rec, shape)
	}
	return x.profiles(ctx, job, rec, shape)
}

func (x *BotExecutor) headers(shape domain.BotShape, profile string) map[string]string {
	h := map[string]string{}
	if shape.FullBrowserHeaders {
		for k, v := range browserHeaders {
			h[k] = v
		}
	}
	if profile != "" {
		h["User-Agent"] = UserAgent(profile)
	}
	return h
}

// profiles sends one request per UA profile; any challenge counts as a block.
func (x *BotExecutor) profiles(ctx context.Context, job *Job, rec *recorder, shape domain.BotShape) *domain.TestResult {
	client := x.env.NewHTTPClient(ClientOptions{Connections: 1, IPOverride: job.Config.IPAddress}, job.Log)
	defer client.CloseIdleConnections()
	target := JoinPath(BaseURL(job.Config.Domain), shape.Path)

	var challenged, passed []string
	for i, profile := range shape.Profiles {
		if i > 0 && !pause(ctx, x.env.Settings.PayloadDelay) {
			rec.fail(fmt.Errorf("cancelled after %d of %d profiles: %w", i, len(shape.Profiles), ctx.Err()))
			break
		}
		req, err := newRequest(ctx, http.MethodGet, target, "", x.headers(shape, profile))
		if err != nil {
			job.Log.Now("profile %s skipped: %v", profile, err)
			continue
		}
		resp := x.env.do(ctx, client, job, req)
		if resp.Err != nil && ctx.Err() != nil {
			rec.fail(fmt.Errorf("cancelled after %d of %d profiles: %w", i, len(shape.Profiles), ctx.Err()))
			break
		}
		rec.observe(resp)
		if resp.Err != nil || resp.Blocked {
			challenged = append(challenged, profile)
			job.Log.Now("profile %s challenged (status %d)", profile, resp.Status)
		} else {
			passed = append(passed, profile)
			job.Log.Now("profile %s passed (status %d)", profile, resp.Status)
		}
	}

	verdict := domain.VerdictBypassed
	if len(challenged) > 0 {
		verdict = domain.VerdictBlocked
	}
	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.ChallengedProfiles = challenged
		d.PassedProfiles = passed
		d.TotalRequests = len(challenged) + len(passed)
		d.ChallengeDetected = len(challenged) > 0
	}
	return rec.finish(verdict)
}

type crawlItem struct {
	url   *url.URL
	depth int
}

// crawl performs a breadth-first fetch limited by depth and fetch count,
// following only same-origin relative links.
func (x *BotExecutor) crawl(ctx context.Context, job *Job, rec *recorder, shape domain.BotShape) *domain.TestResult {
	opts := ClientOptions{Connections: 1, IPOverride: job.Config.IPAddress}
	if shape.AcceptCookies {
		jar, err := cookiejar.New(nil)
		if err == nil {
			opts.Jar = jar
		}
	}
	client := x.env.NewHTTPClient(opts, job.Log)
	defer client.CloseIdleConnections()

	maxDepth := shape.CrawlDepth
	if maxDepth > MaxCrawlDepth {
		maxDepth = MaxCrawlDepth
	}
	if maxDepth < 0 {
		maxDepth = 0
	}
	maxFetches := shape.MaxFetches
	if maxFetches <= 0 || maxFetches > x.env.Settings.MaxCrawlFetches {
		maxFetches = x.env.Settings.MaxCrawlFetches
	}
	profile := ""
	if len(shape.Profiles) > 0 {
		profile = shape.Profiles[0]
	}

	root, err := url.Parse(JoinPath(BaseURL(job.Config.Domain), shape.Path))
	if err != nil {
		rec.fail(fmt.Errorf("parse crawl root: %w", err))
		return rec.finish(domain.VerdictBlocked)
	}

	var disallow []string
	fetches := 0
	if shape.RespectRobots {
		disallow = x.robots(ctx, job, rec, client, root, x.headers(shape, profile))
		fetches++
	}

	queue := []crawlItem{{url: root, depth: 0}}
	seen := map[string]bool{root.String(): true}
	var crawled []string
	challenged := 0

	for len(queue) > 0 && fetches < maxFetches {
		if ctx.Err() != nil {
			rec.fail(fmt.Errorf("crawl cancelled: %w", ctx.Err()))
			break
		}
		item := queue[0]
		queue = queue[1:]
		if disallowed(item.url.Path, disallow) {
			job.Log.Now("robots.txt disallows %s", item.url.Path)
			continue
		}
		if fetches > 0 && !pause(ctx, x.env.Settings.MinInterval) {
			continue
		}

		req, err := newRequest(ctx, http.MethodGet, item.url.String(), "", x.headers(shape, profile))
		if err != nil {
			job.Log.Now("crawl skip %s: %v", item.url, err)
			continue
		}
		fetches++
		resp := x.env.do(ctx, client, job, req)
		rec.observe(resp)
		if resp.Err != nil || resp.Blocked {
			challenged++
			job.Log.Now("crawl challenged at %s (status %d)", item.url, resp.Status)
			continue
		}
		crawled = append(crawled, item.url.String())

		if item.depth >= maxDepth {
			continue
		}
		for _, link := range ExtractLinks(resp.Body) {
			next, err := item.url.Parse(link)
			if err != nil || next.Host != root.Host || next.Scheme != root.Scheme {
				continue
			}
			next.Fragment = ""
			key := next.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			queue = append(queue, crawlItem{url: next, depth: item.depth + 1})
		}
	}

	verdict := domain.VerdictBypassed
	if challenged > 0 {
		verdict = domain.VerdictBlocked
	}
	job.Log.Now("crawl finished: %d pages, %d challenged, %d fetches", len(crawled), challenged, fetches)
	rec.seal = func(_ int64, d *domain.TestResultDetails) {
		d.PagesCrawled = len(crawled)
		d.CrawledURLs = crawled
		d.TotalRequests = fetches
		d.ChallengeDetected = challenged > 0
		if profile != "" {
			if challenged > 0 {
				d.ChallengedProfiles = []string{profile}
			} else {
				d.PassedProfiles = []string{profile}
			}
		}
	}
	return rec.finish(verdict)
}

// ExtractLinks returns relative href targets without parent-directory segments.
func ExtractLinks(body string) []string {
	var links []string
	for _, m := range hrefPattern.FindAllStringSubmatch(body, -1) {
		link := strings.TrimSpace(m[1])
		if link == "" || strings.Contains(link, "..") || !isRelative(link) {
			continue
		}
		links = append(links, link)
	}
	return links
}

func isRelative(link string) bool {
	if strings.HasPrefix(link, "//") {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// robots fetches /robots.txt and returns the Disallow prefixes for "User-agent: *".
func (x *BotExecutor) robots(ctx context.Context, job *Job, rec *recorder, client *http.Client, root *url.URL, headers map[string]string) []string {
	robotsURL := &url.URL{Scheme: root.Scheme, Host: root.Host, Path: "/robots.txt"}
	req, err := newRequest(ctx, http.MethodGet, robotsURL.String(), "", headers)
	if err != nil {
		return nil
	}
	resp := x.env.do(ctx, client, job, req)
	rec.count(1)
	if !resp.OK() || resp.Status >= 300 {
		job.Log.Now("robots.txt unavailable (status %d)", resp.Status)
		return nil
	}
	rules := ParseRobots(resp.Body)
	job.Log.Now("robots.txt: %d disallow rules", len(rules))
	return rules
}

// ParseRobots extracts Disallow rules from the "User-agent: *" groups.
func ParseRobots(body string) []string {
	var rules []string
	applies := false
	inAgents := false
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		switch key {
		case "user-agent":
			if !inAgents {
				applies = false
			}
			inAgents = true
			if value == "*" {
				applies = true
			}
		case "disallow":
			inAgents = false
			if applies && value != "" {
				rules = append(rules, value)
			}
		default:
			inAgents = false
		}
	}
	return rules
}

func disallowed(path string, rules []string) bool {
	if path == "" {
		path = "/"
	}
	for _, r := range rules {
		if strings.HasPrefix(path, r) {
			return true
		}
	}
	return false
}
