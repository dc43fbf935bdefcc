package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestHTTPCache_SaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	c := &HTTPCache{Dir: t.TempDir()}
	url := "https://docs.example.com/guide"
	body := []byte("<html><body>guide</body></html>")
	if err := c.Save(context.Background(), url, "text/html", `"v1"`, "Mon, 02 Jan 2006 15:04:05 GMT", body); err != nil {
		t.Fatalf("save: %v", err)
	}
	meta, err := c.LoadMeta(context.Background(), url)
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	if meta.URL != url || meta.ETag != `"v1"` || meta.ContentType != "text/html" {
		t.Fatalf("meta mismatch: %+v", meta)
	}
	got, err := c.LoadBody(context.Background(), url)
	if err != nil {
		t.Fatalf("load body: %v", err)
	}
	if string(got) != string(body) {
		t.Fatal("body mismatch")
	}
}

func TestHTTPCache_LRUEnforcement_Count(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	urls := []string{"https://a.com/1", "https://a.com/2", "https://a.com/3"}
	for i, u := range urls {
		if err := c.Save(context.Background(), u, "text/html", "", "", []byte(fmt.Sprintf("body-%d", i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Touch second to make it MRU compared to first
	if _, err := c.LoadBody(context.Background(), urls[1]); err != nil {
		t.Fatalf("touch body: %v", err)
	}
	removed, err := EnforceHTTPCacheLimits(dir, 0, 2)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := c.LoadBody(context.Background(), urls[0]); err == nil {
		t.Fatalf("expected oldest evicted")
	}
}

func TestHTTPCache_LRUEnforcement_Bytes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	if err := c.Save(context.Background(), "https://b.com/1", "text/html", "", "", []byte("1111111111")); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := c.Save(context.Background(), "https://b.com/2", "text/html", "", "", []byte("22")); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	// A cap this small forces at least the oldest entry out
	removed, err := EnforceHTTPCacheLimits(dir, 5, 0)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if removed < 1 {
		t.Fatalf("expected at least 1 removal, got %d", removed)
	}
}

func TestPurgeHTTPCacheByAgeKeepsFresh(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	if err := c.Save(context.Background(), "https://c.com/fresh", "text/html", "", "", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	removed, err := PurgeHTTPCacheByAge(dir, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 0 {
		t.Fatalf("fresh entry purged: removed=%d", removed)
	}
	if _, err := c.LoadBody(context.Background(), "https://c.com/fresh"); err != nil {
		t.Fatalf("entry missing after purge: %v", err)
	}
}
