package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperifyio/docdistill/internal/cache"
	"github.com/hyperifyio/docdistill/internal/robots"
	"github.com/hyperifyio/docdistill/internal/store"
	"github.com/hyperifyio/docdistill/internal/token"
)

const longPara = "This paragraph carries enough English words about installation, configuration, and usage of the tool to pass both the block length filter and the minimum token threshold when repeated a few times. "

func docPage(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body><main>")
	b.WriteString("<h1>" + title + " heading with plenty of descriptive words in it</h1>")
	for i := 0; i < 10; i++ {
		b.WriteString("<p>" + longPara + "</p>")
	}
	for _, l := range links {
		b.WriteString(`<a href="` + l + `">link</a>`)
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

func newCrawler(t *testing.T, srv *httptest.Server) *Crawler {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	return &Crawler{
		Fetcher: &Fetcher{HTTPClient: srv.Client(), UserAgent: "docdistill-test", MaxAttempts: 2},
		Store:   s,
		Counter: token.HeuristicCounter{},
	}
}

func TestCrawlStaysWithinPathPrefix(t *testing.T) {
	var blogHits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/docs/":
			_, _ = w.Write([]byte(docPage("Docs Home", "/docs/install", "/blog/post", "/docs/assets/app.js")))
		case "/docs/install":
			_, _ = w.Write([]byte(docPage("Install Guide")))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/blog/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&blogHits, 1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docPage("Blog Post")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newCrawler(t, srv)
	report, err := c.Crawl(context.Background(), srv.URL+"/docs/")
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if report.Stored != 2 {
		t.Fatalf("report = %+v, want 2 stored pages", report)
	}
	if atomic.LoadInt32(&blogHits) != 0 {
		t.Fatalf("crawl escaped the path prefix: %d blog hits", blogHits)
	}
	pages, err := c.Store.ListPages()
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	for _, p := range pages {
		if p.TokenCount <= minPageTokens {
			t.Errorf("stored page %q under the token floor: %d", p.Name, p.TokenCount)
		}
		if !strings.HasPrefix(p.URL, srv.URL+"/docs") {
			t.Errorf("stored page from outside prefix: %s", p.URL)
		}
	}
}

func TestCrawlDedupsIdenticalContent(t *testing.T) {
	page := docPage("Mirrored Page")
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			_, _ = w.Write([]byte(docPage("Home", "/a", "/b")))
		default:
			_, _ = w.Write([]byte(page))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newCrawler(t, srv)
	report, err := c.Crawl(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	// Home plus one of the two identical mirrors.
	if report.Stored != 2 {
		t.Fatalf("report = %+v, want duplicate dropped", report)
	}
}

func TestCrawlSkipsTinyPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><main><p>" + longPara + "</p></main></body></html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newCrawler(t, srv)
	report, err := c.Crawl(context.Background(), srv.URL+"/")
	if err != ErrNoPages {
		t.Fatalf("err = %v, want ErrNoPages", err)
	}
	if report.Stored != 0 {
		t.Fatalf("tiny page must not be stored: %+v", report)
	}
}

func TestCrawlHonorsRobots(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docPage("Forbidden")))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := newCrawler(t, srv)
	c.Robots = &robots.Manager{HTTPClient: srv.Client(), UserAgent: "docdistill-test", EntryExpiry: time.Minute}
	if _, err := c.Crawl(context.Background(), srv.URL+"/"); err != ErrNoPages {
		t.Fatalf("err = %v, want ErrNoPages under disallow-all robots", err)
	}
}

func TestCrawlWaveDelayFollowsRobots(t *testing.T) {
	robotsServer := func(delay string) *httptest.Server {
		mux := http.NewServeMux()
		mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("User-agent: *\nCrawl-delay: " + delay + "\n"))
		})
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		return srv
	}
	ctx := context.Background()

	srv := robotsServer("2")
	c := newCrawler(t, srv)
	if got := c.waveDelay(ctx, srv.URL+"/docs/"); got != pacing {
		t.Errorf("without a robots manager the floor applies: got %v", got)
	}
	c.Robots = &robots.Manager{HTTPClient: srv.Client(), UserAgent: "docdistill-test", EntryExpiry: time.Minute}
	if got := c.waveDelay(ctx, srv.URL+"/docs/"); got != 2*time.Second {
		t.Errorf("published crawl delay not honored: got %v", got)
	}

	hostile := robotsServer("600")
	capped := newCrawler(t, hostile)
	capped.Robots = &robots.Manager{HTTPClient: hostile.Client(), UserAgent: "docdistill-test", EntryExpiry: time.Minute}
	if got := capped.waveDelay(ctx, hostile.URL+"/docs/"); got != maxPacing {
		t.Errorf("hostile crawl delay not capped: got %v", got)
	}
}

func TestFetcherRetriesTransientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := &Fetcher{HTTPClient: srv.Client(), MaxAttempts: 3}
	body, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(string(body), "ok") {
		t.Fatalf("body = %q", body)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected retry after 500, got %d hits", hits)
	}
}

func TestFetcherServesCached304(t *testing.T) {
	const etag = `"v1"`
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("ETag", etag)
		_, _ = w.Write([]byte("<html><body>cached</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := &Fetcher{HTTPClient: srv.Client(), Cache: &cache.HTTPCache{Dir: t.TempDir()}}
	first, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	second, err := f.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("304 must serve the cached body")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected conditional refetch, got %d hits", hits)
	}
}

func TestFetcherRejectsNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	}))
	t.Cleanup(srv.Close)

	f := &Fetcher{HTTPClient: srv.Client()}
	if _, err := f.Get(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected content-type rejection")
	}
}

func TestExtractContentFallback(t *testing.T) {
	raw := []byte("<html><head><title>Bare Page</title></head><body><p>" +
		strings.Repeat("fallback text with enough characters in this block ", 3) +
		"</p></body></html>")
	u, _ := url.Parse("https://example.com/bare")
	got := ExtractContent(raw, u)
	if got.Text == "" {
		t.Fatalf("fallback extraction produced nothing")
	}
	if !strings.Contains(got.Text, "fallback text") {
		t.Errorf("text = %q", got.Text)
	}
}

func TestExtractContentDistinguishesByHeading(t *testing.T) {
	u, _ := url.Parse("https://docs.example.com/a")
	a := ExtractContent([]byte(docPage("Mirrored Page")), u)
	b := ExtractContent([]byte(docPage("Home")), u)
	if a.Text == b.Text {
		t.Fatalf("pages differing only in their heading extracted to identical text")
	}
	if !strings.HasPrefix(a.Text, "Mirrored Page") {
		t.Errorf("page title missing from the extracted text: %q", a.Text[:60])
	}
}

func TestExtractLinksResolvesRelative(t *testing.T) {
	raw := []byte(`<html><body>
		<a href="/docs/a">a</a>
		<a href="b#section">b</a>
		<a href="mailto:x@example.com">mail</a>
	</body></html>`)
	base, _ := url.Parse("https://example.com/docs/")
	links := ExtractLinks(raw, base)
	if len(links) != 2 {
		t.Fatalf("links = %v", links)
	}
	if links[0] != "https://example.com/docs/a" || links[1] != "https://example.com/docs/b" {
		t.Fatalf("links = %v", links)
	}
}

func TestAdmitSkipPatterns(t *testing.T) {
	base, _ := url.Parse("https://example.com/docs/")
	c := &Crawler{}
	cases := []struct {
		link string
		want bool
	}{
		{"https://example.com/docs/guide", true},
		{"https://example.com/docs/file.pdf", false},
		{"https://example.com/docs/login", false},
		{"https://example.com/other/guide", false},
		{"https://elsewhere.com/docs/guide", false},
	}
	for _, tc := range cases {
		if got := c.admit(tc.link, base); got != tc.want {
			t.Errorf("admit(%q) = %v, want %v", tc.link, got, tc.want)
		}
	}
}
