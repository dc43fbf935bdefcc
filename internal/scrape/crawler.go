package scrape

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pemistahl/lingua-go"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/docdistill/internal/robots"
	"github.com/hyperifyio/docdistill/internal/store"
	"github.com/hyperifyio/docdistill/internal/token"
)

// DefaultConcurrency bounds in-flight page fetches during a crawl.
const DefaultConcurrency = 4

// minPageTokens discards pages with too little content to be worth
// summarizing.
const minPageTokens = 100

// pacing is the minimum delay between crawl waves, a courtesy to the target
// server. A robots.txt Crawl-delay longer than this takes over, capped at
// maxPacing so a hostile value cannot stall the crawl.
const (
	pacing    = 100 * time.Millisecond
	maxPacing = 10 * time.Second
)

// ErrNoPages is returned when a crawl finishes without storing a single
// usable page.
var ErrNoPages = errors.New("no pages were stored")

// skipSubstrings excludes asset, account, and listing URLs that never carry
// documentation content.
var skipSubstrings = []string{
	".pdf", ".zip", ".png", ".jpg", ".jpeg", ".gif", ".css", ".js",
	"/assets/", "/images/", "/static/", "/search", "/login", "/signup",
	"/register", "/download", "/archive", "/tag/", "/category/", "/feed", "/rss",
}

// Report summarizes a finished crawl.
type Report struct {
	Visited int
	Stored  int
}

// Crawler walks a documentation site breadth-first from a start URL, keeping
// to the same host and path prefix, and stores the distilled text of each
// page that survives the language, size, and dedup filters.
type Crawler struct {
	Fetcher *Fetcher
	Robots  *robots.Manager
	Store   *store.Store
	Index   *store.Index
	Counter token.Counter
	// Concurrency defaults to DefaultConcurrency when <= 0.
	Concurrency int
	// MaxPages stops the crawl after that many pages were visited. Zero
	// means unbounded.
	MaxPages int

	detectorOnce sync.Once
	detector     lingua.LanguageDetector
}

type pageResult struct {
	links  []string
	stored bool
}

// Crawl runs the breadth-first walk. Page fetches within one wave run
// concurrently under the fetcher's limit; the frontier advances wave by wave
// with a small pacing delay. Every stored page is written with its URL and
// token count; content hashes dedup across pages and, through the index,
// across runs.
func (c *Crawler) Crawl(ctx context.Context, startURL string) (Report, error) {
	base, err := url.Parse(startURL)
	if err != nil || base.Host == "" {
		return Report{}, errors.New("invalid start URL")
	}

	limit := c.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	seen := map[string]bool{startURL: true}
	hashes := map[string]bool{}
	frontier := []string{startURL}
	var report Report

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		wave := frontier
		if len(wave) > limit {
			frontier = wave[limit:]
			wave = wave[:limit]
		} else {
			frontier = nil
		}

		results := make([]pageResult, len(wave))
		var wg sync.WaitGroup
		var mu sync.Mutex
		for i, pageURL := range wave {
			if c.MaxPages > 0 && report.Visited >= c.MaxPages {
				frontier = nil
				break
			}
			report.Visited++
			wg.Add(1)
			go func(i int, pageURL string) {
				defer wg.Done()
				res := c.visit(ctx, pageURL, base, hashes, &mu)
				results[i] = res
			}(i, pageURL)
		}
		wg.Wait()

		for _, res := range results {
			if res.stored {
				report.Stored++
			}
			for _, link := range res.links {
				if !seen[link] && c.admit(link, base) {
					seen[link] = true
					frontier = append(frontier, link)
				}
			}
		}
		if len(frontier) > 0 {
			select {
			case <-time.After(c.waveDelay(ctx, startURL)):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}
	}

	log.Info().Int("visited", report.Visited).Int("stored", report.Stored).Msg("crawl finished")
	if report.Stored == 0 {
		return report, ErrNoPages
	}
	return report, nil
}

// waveDelay is the pause before the next crawl wave, honoring the host's
// robots.txt Crawl-delay when one is published.
func (c *Crawler) waveDelay(ctx context.Context, startURL string) time.Duration {
	if c.Robots == nil {
		return pacing
	}
	d := c.Robots.CrawlDelay(ctx, startURL)
	if d <= pacing {
		return pacing
	}
	if d > maxPacing {
		return maxPacing
	}
	return d
}

// visit fetches one page, stores it if it passes the filters, and returns
// the links found on it. Any failure is soft: the page is skipped and the
// crawl continues.
func (c *Crawler) visit(ctx context.Context, pageURL string, base *url.URL, hashes map[string]bool, mu *sync.Mutex) pageResult {
	if c.Robots != nil && !c.Robots.Allowed(ctx, pageURL) {
		log.Debug().Str("url", pageURL).Msg("disallowed by robots")
		return pageResult{}
	}
	raw, err := c.Fetcher.Get(ctx, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("fetch failed")
		return pageResult{}
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageResult{}
	}

	res := pageResult{links: ExtractLinks(raw, u)}

	content := ExtractContent(raw, u)
	if content.Text == "" || !c.isEnglish(content.Text) {
		return res
	}

	sum := sha256.Sum256([]byte(content.Text))
	hash := hex.EncodeToString(sum[:])
	mu.Lock()
	dup := hashes[hash]
	hashes[hash] = true
	mu.Unlock()
	if dup {
		return res
	}
	if c.Index != nil {
		if seen, err := c.Index.SeenHash(hash); err == nil && seen {
			return res
		}
	}

	tokens := c.Counter.Count(content.Text)
	if tokens <= minPageTokens {
		return res
	}

	title := content.Title
	if title == "" {
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		title = segs[len(segs)-1]
	}
	name, err := c.Store.SavePage(title, pageURL, tokens, content.Text)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("store page failed")
		return res
	}
	if c.Index != nil {
		if _, err := c.Index.RecordPage(pageURL, hash, title, tokens); err != nil {
			log.Warn().Err(err).Str("url", pageURL).Msg("index page failed")
		}
	}
	log.Info().Str("url", pageURL).Str("name", name).Int("tokens", tokens).Msg("page stored")
	res.stored = true
	return res
}

// admit keeps the crawl inside the start URL's host and path prefix and away
// from asset or account URLs.
func (c *Crawler) admit(link string, base *url.URL) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Host != base.Host {
		return false
	}
	if !strings.HasPrefix(u.Path, base.Path) {
		return false
	}
	lower := strings.ToLower(link)
	for _, skip := range skipSubstrings {
		if strings.Contains(lower, skip) {
			return false
		}
	}
	return true
}

// isEnglish keeps English pages, plus anything the detector cannot classify.
func (c *Crawler) isEnglish(text string) bool {
	c.detectorOnce.Do(func() {
		c.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(lingua.English, lingua.German, lingua.French, lingua.Spanish, lingua.Japanese, lingua.Chinese).
			Build()
	})
	lang, ok := c.detector.DetectLanguageOf(text)
	if !ok {
		return true
	}
	return lang == lingua.English
}
