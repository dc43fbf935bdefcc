package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/docdistill/internal/store"
)

// stubLLM answers the OpenAI-compatible endpoints with canned summaries so
// the pipeline can run end to end without a model.
func stubLLM(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "stub-model", "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Condensed usage notes."}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, srvURL string) *App {
	t.Helper()
	cfg := Config{
		OutputDir:  t.TempDir(),
		LLMBaseURL: srvURL + "/v1",
		LLMModel:   "stub-model",
		MaxTokens:  500,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func seedPage(t *testing.T, a *App, title, body string) {
	t.Helper()
	if _, err := a.Store().SavePage(title, "https://docs.example.com/"+title, 400, body); err != nil {
		t.Fatalf("SavePage: %v", err)
	}
}

func docBody() string {
	para := strings.Repeat("Configure the client before use. ", 20)
	return "# Setup\n\n" + para + "\n\n# Usage\n\n" + para
}

func TestPipelineEndToEnd(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)

	seedPage(t, a, "install guide", docBody())
	seedPage(t, a, "api reference", docBody())

	ctx := context.Background()
	chunks, err := a.Process(ctx)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if chunks == 0 {
		t.Fatalf("no chunks written")
	}

	rep, err := a.Summarize(ctx)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if rep.Succeeded != rep.Attempted || rep.Succeeded == 0 {
		t.Fatalf("summarize report = %+v", rep)
	}

	tokens, err := a.Combine(ctx)
	if err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if !tokens.MetTarget {
		t.Errorf("tiny summaries should meet the default target: %+v", tokens)
	}

	combined, err := os.ReadFile(filepath.Join(a.Store().SummariesDir(), store.CombinedName))
	if err != nil {
		t.Fatalf("read combined: %v", err)
	}
	text := string(combined)
	if !strings.HasPrefix(text, "# "+CombinedHeading) {
		t.Errorf("combined heading missing:\n%s", text[:80])
	}
	if !strings.Contains(text, "Condensed usage notes.") {
		t.Errorf("summary content missing from combined document")
	}

	// The summaries fit the target, so no reduction ran and no optimized
	// document should appear.
	if _, err := os.Stat(filepath.Join(a.Store().SummariesDir(), store.OptimizedCombinedName)); !os.IsNotExist(err) {
		t.Errorf("optimized combined document written without a reduction: %v", err)
	}
}

func TestCombineReducesOverBudgetSummaries(t *testing.T) {
	srv := stubLLM(t)
	cfg := Config{
		OutputDir:    t.TempDir(),
		LLMBaseURL:   srv.URL + "/v1",
		LLMModel:     "stub-model",
		MaxTokens:    500,
		TargetTokens: 1,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)

	seedPage(t, a, "install guide", docBody())
	ctx := context.Background()
	if _, err := a.Process(ctx); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := a.Summarize(ctx); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if _, err := a.Combine(ctx); err != nil {
		t.Fatalf("Combine: %v", err)
	}
	if _, err := os.Stat(filepath.Join(a.Store().SummariesDir(), store.OptimizedCombinedName)); err != nil {
		t.Errorf("optimized combined document missing after reduction: %v", err)
	}
	entries, err := os.ReadDir(a.Store().OptimizedDir())
	if err != nil || len(entries) == 0 {
		t.Errorf("optimized summaries dir empty: entries = %v, err = %v", entries, err)
	}
}

func TestRunRecordsOutcome(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)
	seedPage(t, a, "guide", docBody())

	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Chunks == 0 || res.Summaries == 0 {
		t.Fatalf("result = %+v", res)
	}

	rec, err := a.Index().GetRun(res.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != "done" {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.Summaries != res.Summaries || rec.MetTarget != res.Tokens.MetTarget {
		t.Errorf("record = %+v, result = %+v", rec, res)
	}
}

func TestSummarizeWithoutChunksFails(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)
	if _, err := a.Summarize(context.Background()); err == nil {
		t.Fatalf("expected error with an empty chunks dir")
	}
}

func TestProgressEventsEmitted(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)
	seedPage(t, a, "guide", docBody())

	events := make(chan Event, 64)
	a.Events = events

	if _, err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(events)

	stages := map[string]bool{}
	for ev := range events {
		stages[ev.Stage] = true
	}
	for _, want := range []string{"process", "summarize", "combine"} {
		if !stages[want] {
			t.Errorf("no event for stage %q (got %v)", want, stages)
		}
	}
}

func TestIngestRoutesFilesIntoStore(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)

	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	if err := os.WriteFile(path, []byte("# Readme\n\nLocal file content for the pipeline."), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	stored, err := a.Ingest(dir)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stored != 1 {
		t.Fatalf("stored = %d", stored)
	}
	pages, err := a.Store().ListPages()
	if err != nil || len(pages) != 1 {
		t.Fatalf("pages = %v, err = %v", pages, err)
	}
}

func TestNewTrimsCachesToConfiguredLimits(t *testing.T) {
	srv := stubLLM(t)
	cacheDir := t.TempDir()
	llmDir := filepath.Join(cacheDir, "llm")
	if err := os.MkdirAll(llmDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"old.json", "mid.json", "new.json"} {
		path := filepath.Join(llmDir, name)
		if err := os.WriteFile(path, []byte(`{"content":"cached"}`), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mt, mt); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	cfg := Config{
		OutputDir:     t.TempDir(),
		LLMBaseURL:    srv.URL + "/v1",
		LLMModel:      "stub-model",
		CacheDir:      cacheDir,
		CacheMaxCount: 1,
	}
	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)

	entries, err := os.ReadDir(llmDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "new.json" {
		t.Fatalf("cache not trimmed to newest entry: %v", entries)
	}
}

func TestCleanRemovesDerivedDirs(t *testing.T) {
	srv := stubLLM(t)
	a := newTestApp(t, srv.URL)
	seedPage(t, a, "guide", docBody())

	if err := a.Clean(); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if _, err := os.Stat(a.Store().DocsDir()); !os.IsNotExist(err) {
		t.Errorf("documentation dir still present: %v", err)
	}
}
