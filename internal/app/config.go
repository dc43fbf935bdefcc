package app

import "time"

// Defaults for the main tuning knobs. Flags, env, and the config file all
// overlay on top of these.
const (
	DefaultOutputDir    = "output"
	DefaultMaxTokens    = 16000
	DefaultTargetTokens = 32000
	DefaultConcurrency  = 2
	DefaultUserAgent    = "docdistill/1.0 (+https://github.com/hyperifyio/docdistill)"
	DefaultCacheDir     = ".docdistill-cache"
)

// Config holds runtime configuration for the application.
type Config struct {
	// OutputDir is the store root where pages, chunks, summaries, and the
	// combined documents are written.
	OutputDir string

	// Sources
	StartURL  string // documentation site to crawl
	InputPath string // local file or directory to ingest

	// Pipeline
	MaxTokens    int // per-chunk budget
	TargetTokens int // final combined-document budget
	Concurrency  int // concurrent summarization calls
	MaxPages     int // crawl page cap; zero means unbounded

	// LLM
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string

	// Scraping
	UserAgent string

	// Caching
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheMaxBytes    int64 // per-cache size cap; zero means unbounded
	CacheMaxCount    int   // per-cache entry cap; zero means unbounded
	CacheClear       bool
	CacheStrictPerms bool
	LLMCacheOnly     bool

	// Outputs
	EnablePDF     bool
	OutputPDFPath string

	// Behavior
	StrictBudget bool
	Verbose      bool
}

// TokenReport describes how the final combined document landed against the
// configured budget.
type TokenReport struct {
	TotalTokens  int
	TargetTokens int
	MetTarget    bool
}
