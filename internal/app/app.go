package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/docdistill/internal/cache"
	"github.com/hyperifyio/docdistill/internal/chunk"
	"github.com/hyperifyio/docdistill/internal/combine"
	"github.com/hyperifyio/docdistill/internal/ingest"
	"github.com/hyperifyio/docdistill/internal/llm"
	"github.com/hyperifyio/docdistill/internal/reduce"
	"github.com/hyperifyio/docdistill/internal/robots"
	"github.com/hyperifyio/docdistill/internal/scrape"
	"github.com/hyperifyio/docdistill/internal/section"
	"github.com/hyperifyio/docdistill/internal/store"
	"github.com/hyperifyio/docdistill/internal/summarize"
	"github.com/hyperifyio/docdistill/internal/token"
)

// CombinedHeading is the top-level title of every combined document.
const CombinedHeading = "Combined Documentation Summary"

// Event is one progress notification. Done and Total are stage-local counts;
// Total is zero when the stage size is unknown up front.
type Event struct {
	Stage   string `json:"stage"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// RunResult captures the outcome of one full pipeline run.
type RunResult struct {
	ID        string
	Pages     int
	Chunks    int
	Summaries int
	Tokens    TokenReport
}

// App wires the pipeline stages together: scrape or ingest into the store,
// chunk, summarize, reduce, combine.
type App struct {
	cfg     Config
	store   *store.Store
	index   *store.Index
	ai      llm.Client
	counter token.Counter

	httpCache *cache.HTTPCache
	llmCache  *cache.LLMCache

	// Events, when set, receives progress notifications. Sends never block;
	// a slow receiver just misses updates.
	Events chan<- Event
}

// New opens the store and index, prepares caches, and probes the LLM
// endpoint. The probe is best-effort: an unreachable backend logs a warning
// and the first summarization call surfaces the real error.
func New(ctx context.Context, cfg Config) (*App, error) {
	st, err := store.Open(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ix, err := store.OpenIndex(filepath.Join(cfg.OutputDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	transportCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		transportCfg.BaseURL = cfg.LLMBaseURL
	}
	transportCfg.HTTPClient = newHighThroughputHTTPClient()
	provider := &llm.OpenAIProvider{Inner: openai.NewClientWithConfig(transportCfg)}

	a := &App{
		cfg:     cfg,
		store:   st,
		index:   ix,
		ai:      provider,
		counter: token.HeuristicCounter{},
	}

	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			_ = cache.ClearDir(cfg.CacheDir)
		}
		if cfg.CacheMaxAge > 0 {
			_, _ = cache.PurgeHTTPCacheByAge(cfg.CacheDir, cfg.CacheMaxAge)
			_, _ = cache.PurgeLLMCacheByAge(cfg.CacheDir, cfg.CacheMaxAge)
		}
		if cfg.CacheMaxBytes > 0 || cfg.CacheMaxCount > 0 {
			if n, err := cache.EnforceHTTPCacheLimits(filepath.Join(cfg.CacheDir, "http"), cfg.CacheMaxBytes, cfg.CacheMaxCount); err == nil && n > 0 {
				log.Debug().Int("evicted", n).Msg("trimmed HTTP cache to its size limits")
			}
			if n, err := cache.EnforceLLMCacheLimits(filepath.Join(cfg.CacheDir, "llm"), cfg.CacheMaxBytes, cfg.CacheMaxCount); err == nil && n > 0 {
				log.Debug().Int("evicted", n).Msg("trimmed LLM cache to its size limits")
			}
		}
		a.httpCache = &cache.HTTPCache{Dir: filepath.Join(cfg.CacheDir, "http"), StrictPerms: cfg.CacheStrictPerms}
		a.llmCache = &cache.LLMCache{Dir: filepath.Join(cfg.CacheDir, "llm"), StrictPerms: cfg.CacheStrictPerms}
	}

	// Quick connectivity check by listing models. Do not fail hard here.
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if lister, ok := a.ai.(llm.ModelLister); ok {
		models, err := lister.ListModels(probeCtx)
		if err != nil {
			log.Warn().Err(err).Msg("LLM model list failed; continuing")
		} else if len(models.Models) > 0 {
			log.Info().Int("count", len(models.Models)).Msg("LLM models available")
		} else {
			log.Warn().Msg("LLM returned zero models")
		}
	}

	return a, nil
}

// Close releases the index database.
func (a *App) Close() {
	if a.index != nil {
		_ = a.index.Close()
	}
}

// Store exposes the underlying artifact store for read-only consumers such
// as the HTTP API.
func (a *App) Store() *store.Store { return a.store }

// Index exposes the underlying run index.
func (a *App) Index() *store.Index { return a.index }

func (a *App) emit(ev Event) {
	if a.Events == nil {
		return
	}
	select {
	case a.Events <- ev:
	default:
	}
}

// Scrape crawls the configured start URL and stores every page that survives
// the content filters.
func (a *App) Scrape(ctx context.Context) (scrape.Report, error) {
	if a.cfg.StartURL == "" {
		return scrape.Report{}, errors.New("no start url configured")
	}
	a.emit(Event{Stage: "scrape", Message: "crawl started"})

	httpClient := newHighThroughputHTTPClient()
	fetcher := &scrape.Fetcher{
		HTTPClient:        httpClient,
		UserAgent:         a.userAgent(),
		MaxAttempts:       3,
		PerRequestTimeout: 20 * time.Second,
		Cache:             a.httpCache,
		MaxConcurrent:     scrape.DefaultConcurrency,
	}
	crawler := &scrape.Crawler{
		Fetcher: fetcher,
		Robots: &robots.Manager{
			HTTPClient: httpClient,
			Cache:      a.httpCache,
			UserAgent:  a.userAgent(),
		},
		Store:    a.store,
		Index:    a.index,
		Counter:  a.counter,
		MaxPages: a.cfg.MaxPages,
	}
	report, err := crawler.Crawl(ctx, a.cfg.StartURL)
	a.emit(Event{Stage: "scrape", Done: report.Stored, Total: report.Visited, Message: "crawl finished"})
	return report, err
}

// Ingest stores a local file, or every supported file in a directory, as
// pages. Returns the number of pages stored.
func (a *App) Ingest(path string) (int, error) {
	g := &ingest.Ingester{Store: a.store, Counter: a.counter}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		stored, err := g.IngestDir(path)
		a.emit(Event{Stage: "ingest", Done: stored, Message: path})
		return stored, err
	}
	if _, err := g.Ingest(path); err != nil {
		return 0, err
	}
	a.emit(Event{Stage: "ingest", Done: 1, Total: 1, Message: path})
	return 1, nil
}

// Process splits every stored page into sections and packs them into chunks.
// Returns the number of chunks written.
func (a *App) Process(ctx context.Context) (int, error) {
	pages, err := a.store.ListPages()
	if err != nil {
		return 0, err
	}
	extractor := &section.Extractor{Counter: a.counter}
	packer := &chunk.Packer{Counter: a.counter, MaxTokens: a.maxTokens()}

	written := 0
	for i, p := range pages {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		sections := extractor.Extract(p.Name, chunk.Normalize(p.Text))
		chunks := packer.Pack(sections, p.URL)
		names, err := a.store.SaveChunks(p.Name, chunks)
		if err != nil {
			log.Error().Err(err).Str("page", p.Name).Msg("saving chunks failed")
			continue
		}
		written += len(names)
		a.emit(Event{Stage: "process", Done: i + 1, Total: len(pages), Message: p.Name})
	}
	log.Info().Int("pages", len(pages)).Int("chunks", written).Msg("chunking finished")
	return written, nil
}

// Summarize runs one normal-stage summarization call per stored chunk and
// writes each result to the summaries directory. Failed chunks are dropped;
// the report carries succeeded versus attempted counts.
func (a *App) Summarize(ctx context.Context) (summarize.Report, error) {
	chunks, errs := a.store.ListChunks()
	for _, err := range errs {
		log.Warn().Err(err).Msg("skipping unreadable chunk")
	}
	if len(chunks) == 0 {
		return summarize.Report{}, errors.New("no chunks to summarize")
	}

	tasks := make([]summarize.Task, len(chunks))
	for i, c := range chunks {
		tasks[i] = summarize.Task{Title: c.Name, Text: c.Chunk.Text}
	}

	driver := a.newDriver()
	units, report := driver.Run(ctx, tasks, summarize.StageNormal)
	for i, u := range units {
		if _, err := a.store.SaveSummary(u.Title, u.Content); err != nil {
			log.Error().Err(err).Str("summary", u.Title).Msg("saving summary failed")
			report.Succeeded--
		}
		a.emit(Event{Stage: "summarize", Done: i + 1, Total: len(units), Message: u.Title})
	}
	log.Info().Int("succeeded", report.Succeeded).Int("attempted", report.Attempted).Msg("summarization finished")
	return report, nil
}

// Combine builds the combined documents. The plain document concatenates
// every stored summary as-is. The optimized document exists only when a
// reduction round actually ran: reduced units are persisted and combined
// into it, while a set already under budget yields just the plain document.
// Returns the chosen document's token report.
func (a *App) Combine(ctx context.Context) (TokenReport, error) {
	units, err := a.store.ListSummaries(a.store.SummariesDir())
	if err != nil {
		return TokenReport{}, err
	}
	for i := range units {
		units[i].TokenCount = a.counter.Count(units[i].Content)
	}

	text, err := combine.Combine(units, CombinedHeading)
	if err != nil {
		return TokenReport{}, err
	}
	if _, err := a.store.WriteCombined(store.CombinedName, text); err != nil {
		return TokenReport{}, err
	}
	log.Info().Int("total_tokens", summarize.TotalTokens(units)).Int("units", len(units)).Msg("wrote combined document")
	a.emit(Event{Stage: "combine", Done: 1, Total: 2, Message: store.CombinedName})

	reducer := &reduce.Reducer{Driver: a.newDriver(), TargetTokens: a.targetTokens()}
	reduced, status := reducer.Reduce(ctx, units)

	finalDoc := text
	finalName := store.CombinedName
	if status.Phase == reduce.PhasePacked {
		log.Info().Int("total_tokens", status.TotalTokens).Int("target_tokens", status.TargetTokens).Msg("summaries already under target; no optimized document")
		a.emit(Event{Stage: "combine", Done: 2, Total: 2, Message: "reduction not needed"})
	} else {
		for _, u := range reduced {
			if _, err := a.store.SaveOptimized(u.Title, u.Content); err != nil {
				log.Error().Err(err).Str("unit", u.Title).Msg("saving optimized summary failed")
			}
		}
		optimized, err := combine.Combine(reduced, CombinedHeading)
		if err != nil {
			return TokenReport{}, err
		}
		if _, err := a.store.WriteCombined(store.OptimizedCombinedName, optimized); err != nil {
			return TokenReport{}, err
		}
		a.emit(Event{Stage: "combine", Done: 2, Total: 2, Message: store.OptimizedCombinedName})
		finalDoc = optimized
		finalName = store.OptimizedCombinedName
	}

	if a.cfg.EnablePDF {
		out := a.cfg.OutputPDFPath
		if out == "" {
			out = filepath.Join(a.cfg.OutputDir, strings.TrimSuffix(finalName, ".md")+".pdf")
		}
		if err := WritePDF(finalDoc, out); err != nil {
			log.Error().Err(err).Str("path", out).Msg("PDF export failed")
		} else {
			log.Info().Str("path", out).Msg("wrote PDF")
		}
	}

	rep := TokenReport{
		TotalTokens:  status.TotalTokens,
		TargetTokens: status.TargetTokens,
		MetTarget:    status.MetTarget,
	}
	log.Info().
		Int("total_tokens", rep.TotalTokens).
		Int("target_tokens", rep.TargetTokens).
		Bool("met_target", rep.MetTarget).
		Str("phase", status.Phase.String()).
		Msg("combine finished")
	return rep, nil
}

// Run executes the full pipeline: scrape (or ingest) when a source is
// configured, then process, summarize, and combine. A run row in the index
// records the outcome either way.
func (a *App) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{ID: uuid.NewString()}
	if err := a.index.StartRun(res.ID); err != nil {
		return res, err
	}
	err := a.runStages(ctx, &res)

	rec := store.RunRecord{
		ID:          res.ID,
		FinishedAt:  time.Now().UTC(),
		Status:      "done",
		Pages:       res.Pages,
		Chunks:      res.Chunks,
		Summaries:   res.Summaries,
		TotalTokens: res.Tokens.TotalTokens,
		MetTarget:   res.Tokens.MetTarget,
	}
	if err != nil {
		rec.Status = "failed"
		if errors.Is(err, context.Canceled) {
			rec.Status = "canceled"
		}
	}
	if ferr := a.index.FinishRun(rec); ferr != nil {
		log.Error().Err(ferr).Str("run", res.ID).Msg("recording run failed")
	}
	return res, err
}

func (a *App) runStages(ctx context.Context, res *RunResult) error {
	if a.cfg.StartURL != "" {
		report, err := a.Scrape(ctx)
		if err != nil {
			return err
		}
		res.Pages = report.Stored
	}
	if a.cfg.InputPath != "" {
		stored, err := a.Ingest(a.cfg.InputPath)
		if err != nil {
			return err
		}
		res.Pages += stored
	}

	chunks, err := a.Process(ctx)
	if err != nil {
		return err
	}
	res.Chunks = chunks

	report, err := a.Summarize(ctx)
	if err != nil {
		return err
	}
	res.Summaries = report.Succeeded
	if err := ctx.Err(); err != nil {
		return err
	}

	tokens, err := a.Combine(ctx)
	if err != nil {
		return err
	}
	res.Tokens = tokens
	return nil
}

// Clean removes every derived artifact under the output directory and, when
// configured, the cache directory.
func (a *App) Clean() error {
	if err := a.store.Clean(); err != nil {
		return err
	}
	if a.cfg.CacheDir != "" {
		return cache.ClearDir(a.cfg.CacheDir)
	}
	return nil
}

func (a *App) newDriver() *summarize.Driver {
	return &summarize.Driver{
		Backend: &summarize.Summarizer{
			Client:    a.ai,
			Cache:     a.llmCache,
			Model:     a.cfg.LLMModel,
			CacheOnly: a.cfg.LLMCacheOnly,
		},
		Counter:     a.counter,
		Concurrency: a.cfg.Concurrency,
		CallTimeout: 60 * time.Second,
	}
}

func (a *App) userAgent() string {
	if a.cfg.UserAgent != "" {
		return a.cfg.UserAgent
	}
	return DefaultUserAgent
}

func (a *App) maxTokens() int {
	if a.cfg.MaxTokens > 0 {
		return a.cfg.MaxTokens
	}
	return DefaultMaxTokens
}

func (a *App) targetTokens() int {
	if a.cfg.TargetTokens > 0 {
		return a.cfg.TargetTokens
	}
	return DefaultTargetTokens
}
