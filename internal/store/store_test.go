package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperifyio/docdistill/internal/chunk"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Getting Started!", "getting_started"},
		{"API / Reference -- v2", "api_reference_v2"},
		{"___", "untitled"},
		{"", "untitled"},
	}
	for _, c := range cases {
		if got := Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	long := Slug(stringOfLen(300))
	if len(long) > 100 {
		t.Errorf("Slug must cap length at 100, got %d", len(long))
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

func TestSavePageRoundTrip(t *testing.T) {
	s := newStore(t)
	name, err := s.SavePage("Install Guide", "https://example.com/install", 240, "Run the installer.")
	if err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	if name != "install_guide" {
		t.Errorf("name = %q", name)
	}
	pages, err := s.ListPages()
	if err != nil {
		t.Fatalf("ListPages: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	p := pages[0]
	if p.URL != "https://example.com/install" || p.TokenCount != 240 {
		t.Errorf("header parse failed: %+v", p)
	}
	if p.Text != "Run the installer." {
		t.Errorf("text = %q", p.Text)
	}
}

func TestSavePageCollisionGetsSuffix(t *testing.T) {
	s := newStore(t)
	first, err := s.SavePage("Guide", "https://example.com/a", 10, "a")
	if err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	second, err := s.SavePage("Guide", "https://example.com/b", 10, "b")
	if err != nil {
		t.Fatalf("SavePage: %v", err)
	}
	if first == second {
		t.Fatalf("colliding titles must get distinct names, both %q", first)
	}
}

func TestChunkRoundTripOrder(t *testing.T) {
	s := newStore(t)
	var chunks []chunk.Chunk
	for i := 0; i < 11; i++ {
		chunks = append(chunks, chunk.Chunk{Text: "chunk", Source: "doc", TokenCount: i})
	}
	if _, err := s.SaveChunks("doc", chunks); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	got, errs := s.ListChunks()
	if len(errs) != 0 {
		t.Fatalf("ListChunks errors: %v", errs)
	}
	if len(got) != 11 {
		t.Fatalf("expected 11 chunks, got %d", len(got))
	}
	// part_10 and part_11 must sort after part_9.
	for i, nc := range got {
		if nc.Chunk.TokenCount != i {
			t.Fatalf("chunk order broken at %d: %+v", i, nc)
		}
	}
}

func TestListChunksSkipsMalformed(t *testing.T) {
	s := newStore(t)
	if _, err := s.SaveChunks("doc", []chunk.Chunk{{Text: "good", Source: "doc"}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}
	bad := filepath.Join(s.ChunksDir(), "broken_part_1.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write bad chunk: %v", err)
	}
	got, errs := s.ListChunks()
	if len(got) != 1 {
		t.Fatalf("expected 1 readable chunk, got %d", len(got))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 per-item error, got %v", errs)
	}
}

func TestSummariesListedInNameOrder(t *testing.T) {
	s := newStore(t)
	for _, name := range []string{"zeta", "alpha", "mike"} {
		if _, err := s.SaveSummary(name, "content of "+name); err != nil {
			t.Fatalf("SaveSummary: %v", err)
		}
	}
	// Empty files are skipped.
	if _, err := s.SaveSummary("empty", "   "); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	units, err := s.ListSummaries(s.SummariesDir())
	if err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	want := []string{"alpha", "mike", "zeta"}
	for i, u := range units {
		if u.Title != want[i] {
			t.Errorf("unit %d = %q, want %q", i, u.Title, want[i])
		}
		if u.OutputPath == "" {
			t.Errorf("unit %q missing output path", u.Title)
		}
	}
}

func TestListSummariesMissingDir(t *testing.T) {
	s := newStore(t)
	units, err := s.ListSummaries(filepath.Join(s.Root, "does-not-exist"))
	if err != nil || units != nil {
		t.Fatalf("missing dir must be empty, got %v, %v", units, err)
	}
}

func TestCleanRemovesDerivedDirs(t *testing.T) {
	s := newStore(t)
	if _, err := s.SaveSummary("a", "x"); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if err := s.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(s.SummariesDir()); !os.IsNotExist(err) {
		t.Fatalf("summaries dir must be gone, err=%v", err)
	}
}

func TestIndexDedupAndRuns(t *testing.T) {
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	defer ix.Close()

	fresh, err := ix.RecordPage("https://example.com/a", "hash1", "A", 100)
	if err != nil || !fresh {
		t.Fatalf("first record: fresh=%v err=%v", fresh, err)
	}
	dup, err := ix.RecordPage("https://example.com/b", "hash1", "B", 100)
	if err != nil {
		t.Fatalf("dup record: %v", err)
	}
	if dup {
		t.Fatalf("same hash must be reported as duplicate")
	}
	seen, err := ix.SeenHash("hash1")
	if err != nil || !seen {
		t.Fatalf("SeenHash = %v, %v", seen, err)
	}
	if n, _ := ix.PageCount(); n != 1 {
		t.Fatalf("PageCount = %d, want 1", n)
	}

	if err := ix.StartRun("run-1"); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := ix.FinishRun(RunRecord{ID: "run-1", Status: "done", Pages: 1, Chunks: 2, Summaries: 2, TotalTokens: 900, MetTarget: true}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	rec, err := ix.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != "done" || !rec.MetTarget || rec.Chunks != 2 {
		t.Fatalf("run record = %+v", rec)
	}
	if rec.FinishedAt.IsZero() {
		t.Fatalf("finished_at not set")
	}
}
