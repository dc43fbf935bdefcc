package robots

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/docdistill/internal/cache"
)

// Rules holds the parsed robots.txt directives for one host.
type Rules struct {
	Groups []Group
}

// Group is one user-agent block.
type Group struct {
	Agents     []string
	Allow      []string
	Disallow   []string
	CrawlDelay *time.Duration
}

// Manager fetches, caches, and evaluates robots.txt on behalf of the crawler.
// Parsed rules are held in memory per host until EntryExpiry and revalidated
// through the shared HTTP cache with conditional requests.
//
// Fetch policy: a 404 means the site publishes no rules, so everything is
// allowed; a server error or timeout yields a temporary disallow-all for the
// host until the memory entry expires.
type Manager struct {
	HTTPClient  *http.Client
	Cache       *cache.HTTPCache
	UserAgent   string
	EntryExpiry time.Duration

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	rules  Rules
	expiry time.Time
}

// disallowAll is the temporary ruleset applied when robots.txt cannot be
// retrieved for reasons other than absence.
func disallowAll() Rules {
	return Rules{Groups: []Group{{Agents: []string{"*"}, Disallow: []string{"/"}}}}
}

// Allowed reports whether pageURL may be fetched by this crawler.
func (m *Manager) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return false
	}
	rules, err := m.RulesFor(ctx, u)
	if err != nil {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.IsAllowed(m.UserAgent, path)
}

// CrawlDelay returns the configured crawl delay for pageURL's host, or zero.
func (m *Manager) CrawlDelay(ctx context.Context, pageURL string) time.Duration {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return 0
	}
	rules, err := m.RulesFor(ctx, u)
	if err != nil {
		return 0
	}
	if d := rules.CrawlDelayFor(m.UserAgent); d != nil {
		return *d
	}
	return 0
}

// RulesFor resolves the ruleset governing u, from memory, the HTTP cache, or
// the network.
func (m *Manager) RulesFor(ctx context.Context, u *url.URL) (Rules, error) {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	m.mu.Lock()
	if m.now == nil {
		m.now = time.Now
	}
	if m.mem == nil {
		m.mem = make(map[string]memEntry)
	}
	if ent, ok := m.mem[robotsURL]; ok && m.now().Before(ent.expiry) {
		r := ent.rules
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	var etag, lastMod string
	if m.Cache != nil {
		if meta, err := m.Cache.LoadMeta(ctx, robotsURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return Rules{}, fmt.Errorf("new request: %w", err)
	}
	if m.UserAgent != "" {
		req.Header.Set("User-Agent", m.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		rules := disallowAll()
		m.storeMem(robotsURL, rules)
		return rules, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && m.Cache != nil:
		body, err := m.Cache.LoadBody(ctx, robotsURL)
		if err != nil {
			return Rules{}, fmt.Errorf("load cached robots: %w", err)
		}
		rules := Parse(string(body))
		m.storeMem(robotsURL, rules)
		return rules, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		rules := Rules{}
		m.storeMem(robotsURL, rules)
		return rules, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		rules := disallowAll()
		m.storeMem(robotsURL, rules)
		return rules, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Rules{}, fmt.Errorf("read robots: %w", err)
	}
	if m.Cache != nil {
		_ = m.Cache.Save(ctx, robotsURL, "text/plain", resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), data)
	}
	rules := Parse(string(data))
	m.storeMem(robotsURL, rules)
	return rules, nil
}

func (m *Manager) storeMem(key string, rules Rules) {
	exp := m.EntryExpiry
	if exp <= 0 {
		exp = 30 * time.Minute
	}
	m.mu.Lock()
	m.mem[key] = memEntry{rules: rules, expiry: m.now().Add(exp)}
	m.mu.Unlock()
}

// Parse reads robots.txt text into grouped directives. Unknown directives are
// ignored; a User-agent line after any rule line starts a new group.
func Parse(text string) Rules {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var groups []Group
	current := Group{}
	flush := func() {
		if len(current.Agents) == 0 && len(current.Allow) == 0 && len(current.Disallow) == 0 && current.CrawlDelay == nil {
			return
		}
		groups = append(groups, current)
		current = Group{}
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		switch key {
		case "user-agent", "useragent":
			if len(current.Agents) > 0 && (len(current.Allow) > 0 || len(current.Disallow) > 0 || current.CrawlDelay != nil) {
				flush()
			}
			current.Agents = append(current.Agents, strings.ToLower(val))
		case "allow":
			current.Allow = append(current.Allow, val)
		case "disallow":
			current.Disallow = append(current.Disallow, val)
		case "crawl-delay", "crawldelay":
			if s := strings.TrimSpace(val); s != "" {
				if d, err := time.ParseDuration(s + "s"); err == nil {
					dd := d
					current.CrawlDelay = &dd
				}
			}
		}
	}
	flush()
	return Rules{Groups: groups}
}

// IsAllowed evaluates the path against the most specific matching user-agent
// group. Within that group the matching directive with the longest concrete
// pattern wins; on a tie Allow beats Disallow; no match defaults to allow.
func (r Rules) IsAllowed(userAgent, path string) bool {
	idx := r.selectGroupIndex(userAgent)
	if idx < 0 {
		return true
	}
	grp := r.Groups[idx]

	bestScore := -1
	bestAllow := true
	evaluate := func(patterns []string, isAllow bool) {
		for _, p := range patterns {
			if p == "" {
				continue
			}
			if patternMatches(p, path) {
				score := patternSpecificity(p)
				if score > bestScore || (score == bestScore && isAllow && !bestAllow) {
					bestScore = score
					bestAllow = isAllow
				}
			}
		}
	}
	evaluate(grp.Disallow, false)
	evaluate(grp.Allow, true)

	if bestScore == -1 {
		return true
	}
	return bestAllow
}

// CrawlDelayFor returns the crawl delay of the most specific matching group,
// or nil when none is set.
func (r Rules) CrawlDelayFor(userAgent string) *time.Duration {
	idx := r.selectGroupIndex(userAgent)
	if idx < 0 {
		return nil
	}
	return r.Groups[idx].CrawlDelay
}

// selectGroupIndex picks the group whose agent token is the longest substring
// of the user agent; the wildcard "*" matches everything but loses to any
// named match.
func (r Rules) selectGroupIndex(userAgent string) int {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	bestIdx := -1
	bestScore := -1
	for i, g := range r.Groups {
		for _, a := range g.Agents {
			tok := strings.ToLower(strings.TrimSpace(a))
			if tok == "" {
				continue
			}
			var score int
			switch {
			case tok == "*":
				score = 0
			case strings.Contains(ua, tok):
				score = len(tok)
			default:
				continue
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
	}
	return bestIdx
}

// patternMatches anchors the robots pattern at the start of the path, with
// '*' as a wildcard and a trailing '$' anchoring the end.
func patternMatches(pattern, path string) bool {
	anchorEnd := strings.HasSuffix(pattern, "$")
	p := strings.TrimSuffix(pattern, "$")
	var b strings.Builder
	b.WriteString("^")
	for _, rn := range p {
		if rn == '*' {
			b.WriteString(".*")
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(rn)))
	}
	if anchorEnd {
		b.WriteString("$")
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

// patternSpecificity scores a pattern by its concrete length, ignoring
// wildcards and the end anchor.
func patternSpecificity(pattern string) int {
	p := strings.TrimSuffix(pattern, "$")
	return len(strings.ReplaceAll(p, "*", ""))
}
