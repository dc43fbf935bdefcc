package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hyperifyio/docdistill/internal/cache"
)

// Fetcher wraps http.Client with timeouts, limited retry on transient
// failures, and conditional revalidation through the shared HTTP cache.
type Fetcher struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Cache, when set, serves 304s and stores fresh bodies.
	Cache *cache.HTTPCache
	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
	// MaxConcurrent limits in-flight requests per fetcher. Zero means
	// unlimited.
	MaxConcurrent int

	limiter     chan struct{}
	limiterOnce sync.Once
}

func (f *Fetcher) httpClient() *http.Client {
	if f.HTTPClient != nil {
		base := *f.HTTPClient
		base.CheckRedirect = f.checkRedirect()
		return &base
	}
	return &http.Client{Timeout: f.PerRequestTimeout, CheckRedirect: f.checkRedirect()}
}

// Get issues a GET for an HTML page, retrying transient failures with a
// linear backoff. A cached copy answers 304 responses.
func (f *Fetcher) Get(ctx context.Context, pageURL string) ([]byte, error) {
	var etag, lastMod string
	if f.Cache != nil {
		if meta, err := f.Cache.LoadMeta(ctx, pageURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := f.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		body, newEtag, newLastMod, status, err := f.tryOnce(ctx, pageURL, etag, lastMod)
		if err == nil {
			if f.Cache != nil && status == http.StatusOK {
				_ = f.Cache.Save(ctx, pageURL, "text/html", newEtag, newLastMod, body)
			}
			if status == http.StatusNotModified && f.Cache != nil {
				if cached, err := f.Cache.LoadBody(ctx, pageURL); err == nil {
					return cached, nil
				}
			}
			return body, nil
		}
		if !isTransient(err) || i == attempts-1 {
			return nil, err
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("unknown fetch error")
	}
	return nil, lastErr
}

func (f *Fetcher) tryOnce(ctx context.Context, pageURL, etag, lastMod string) ([]byte, string, string, int, error) {
	f.acquire()
	defer f.release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", "", 0, fmt.Errorf("new request: %w", err)
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, "", "", 0, fmt.Errorf("unsupported URL scheme: %q", pageURL)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	client := f.httpClient()
	if f.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(req.Context(), f.PerRequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", "", 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 && resp.StatusCode <= 599:
		return nil, "", "", resp.StatusCode, fmt.Errorf("server error: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotModified:
		return nil, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", "", resp.StatusCode, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !isHTMLContentType(ct) {
		return nil, "", "", resp.StatusCode, fmt.Errorf("unsupported content type: %s", ct)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return b, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), resp.StatusCode, nil
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "server error:")
}

func (f *Fetcher) checkRedirect() func(req *http.Request, via []*http.Request) error {
	max := f.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml+xml")
}

func (f *Fetcher) acquire() {
	if f.MaxConcurrent <= 0 {
		return
	}
	f.limiterOnce.Do(func() {
		f.limiter = make(chan struct{}, f.MaxConcurrent)
	})
	f.limiter <- struct{}{}
}

func (f *Fetcher) release() {
	if f.MaxConcurrent <= 0 || f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}
