package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/hyperifyio/docdistill/internal/api"
	"github.com/hyperifyio/docdistill/internal/app"
)

// Exit codes: 0 success, 1 runtime failure, 2 usage or configuration error,
// 3 combined document over budget under --strict-budget.
const (
	exitFailure    = 1
	exitUsage      = 2
	exitOverTarget = 3
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Keep -v for verbosity; --version stays available for the build info.
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Usage: "print the version"}

	cliApp := &cli.App{
		Name:    "docdistill",
		Usage:   "scrape, chunk, summarize, and combine documentation into a token-budgeted digest",
		Version: fmt.Sprintf("%s (%s, %s)", app.BuildVersion, app.BuildCommit, app.BuildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory for all pipeline artifacts"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON config file"},
			&cli.StringFlag{Name: "env-file", Usage: "dotenv file to load before reading the environment"},
			&cli.StringFlag{Name: "base-url", Usage: "OpenAI-compatible base URL"},
			&cli.StringFlag{Name: "model", Usage: "model name"},
			&cli.StringFlag{Name: "api-key", Usage: "API key for the LLM endpoint"},
			&cli.IntFlag{Name: "max-tokens", Usage: "token budget per chunk"},
			&cli.IntFlag{Name: "target-tokens", Usage: "token budget for the final combined document"},
			&cli.IntFlag{Name: "concurrency", Usage: "concurrent summarization calls"},
			&cli.StringFlag{Name: "cache-dir", Usage: "cache directory for HTTP and LLM responses"},
			&cli.Int64Flag{Name: "cache-max-bytes", Usage: "evict oldest cache entries past this many bytes per cache"},
			&cli.IntFlag{Name: "cache-max-count", Usage: "evict oldest cache entries past this many entries per cache"},
			&cli.BoolFlag{Name: "strict-budget", Usage: "exit non-zero when the final document misses the target"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "verbose logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "execute the full pipeline: scrape or ingest, process, summarize, combine",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Usage: "documentation start URL to crawl"},
					&cli.StringFlag{Name: "input", Usage: "local file or directory to ingest instead of crawling"},
					&cli.IntFlag{Name: "max-pages", Usage: "stop the crawl after this many pages"},
					&cli.BoolFlag{Name: "pdf", Usage: "also export the final combined document as PDF"},
				},
				Action: cmdRun,
			},
			{
				Name:  "scrape",
				Usage: "crawl a documentation site into the store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Required: true, Usage: "documentation start URL"},
					&cli.IntFlag{Name: "max-pages", Usage: "stop the crawl after this many pages"},
				},
				Action: cmdScrape,
			},
			{
				Name:      "ingest",
				Usage:     "store local files (.txt, .md, .pdf, .docx) as pages",
				ArgsUsage: "<file-or-directory>",
				Action:    cmdIngest,
			},
			{
				Name:   "process",
				Usage:  "split stored pages into sections and pack them into chunks",
				Action: cmdProcess,
			},
			{
				Name:   "summarize",
				Usage:  "summarize every stored chunk",
				Action: cmdSummarize,
			},
			{
				Name:   "combine",
				Usage:  "build the combined document, reducing into an optimized one when over budget",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "pdf", Usage: "also export the final combined document as PDF"},
				},
				Action: cmdCombine,
			},
			{
				Name:  "serve",
				Usage: "serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
				},
				Action: cmdServe,
			},
			{
				Name:   "clean",
				Usage:  "remove derived artifacts and caches",
				Action: cmdClean,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(err)
			return
		}
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitFailure)
	}
}

// buildConfig assembles the effective configuration with precedence
// flags > env > file > defaults.
func buildConfig(c *cli.Context) (app.Config, error) {
	// Later files override earlier ones, so the explicit flag must come last.
	if err := app.LoadEnvFiles(".env", c.String("env-file")); err != nil {
		return app.Config{}, cli.Exit("load env files: "+err.Error(), exitUsage)
	}

	cfg := app.Config{
		OutputDir:     c.String("output"),
		StartURL:      c.String("url"),
		InputPath:     c.String("input"),
		MaxTokens:     c.Int("max-tokens"),
		TargetTokens:  c.Int("target-tokens"),
		Concurrency:   c.Int("concurrency"),
		MaxPages:      c.Int("max-pages"),
		LLMBaseURL:    c.String("base-url"),
		LLMModel:      c.String("model"),
		LLMAPIKey:     c.String("api-key"),
		CacheDir:      c.String("cache-dir"),
		CacheMaxBytes: c.Int64("cache-max-bytes"),
		CacheMaxCount: c.Int("cache-max-count"),
		EnablePDF:     c.Bool("pdf"),
		StrictBudget:  c.Bool("strict-budget"),
		Verbose:       c.Bool("verbose"),
	}
	app.ApplyEnvToConfig(&cfg)

	if path := c.String("config"); path != "" {
		fc, err := app.LoadConfigFile(path)
		if err != nil {
			return cfg, cli.Exit("load config: "+err.Error(), exitUsage)
		}
		app.ApplyFileConfig(&cfg, fc)
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = app.DefaultOutputDir
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = app.DefaultMaxTokens
	}
	if cfg.TargetTokens == 0 {
		cfg.TargetTokens = app.DefaultTargetTokens
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = app.DefaultConcurrency
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	return cfg, nil
}

// needsLLM additionally validates the model configuration for commands that
// call the backend.
func needsLLM(cfg app.Config) error {
	if err := app.ValidateConfig(cfg); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newApp(ctx context.Context, cfg app.Config) (*app.App, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitFailure)
	}
	return a, nil
}

func cmdRun(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.StartURL == "" && cfg.InputPath == "" {
		return cli.Exit("run needs --url or --input", exitUsage)
	}
	if err := needsLLM(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Run(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("run", res.ID).
		Int("pages", res.Pages).
		Int("chunks", res.Chunks).
		Int("summaries", res.Summaries).
		Int("total_tokens", res.Tokens.TotalTokens).
		Bool("met_target", res.Tokens.MetTarget).
		Msg("pipeline finished")
	if cfg.StrictBudget && !res.Tokens.MetTarget {
		return cli.Exit(fmt.Sprintf("combined document is %d tokens, target %d", res.Tokens.TotalTokens, res.Tokens.TargetTokens), exitOverTarget)
	}
	return nil
}

func cmdScrape(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "unused" // scraping never calls the model
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Scrape(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("visited", report.Visited).Int("stored", report.Stored).Msg("scrape finished")
	return nil
}

func cmdIngest(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("ingest needs exactly one file or directory argument", exitUsage)
	}
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "unused"
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.Ingest(c.Args().First())
	if err != nil {
		return err
	}
	log.Info().Int("stored", stored).Msg("ingest finished")
	return nil
}

func cmdProcess(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "unused"
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	chunks, err := a.Process(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", chunks).Msg("process finished")
	return nil
}

func cmdSummarize(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if err := needsLLM(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Summarize(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("succeeded", report.Succeeded).Int("attempted", report.Attempted).Msg("summarize finished")
	return nil
}

func cmdCombine(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if err := needsLLM(cfg); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	tokens, err := a.Combine(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Int("total_tokens", tokens.TotalTokens).
		Int("target_tokens", tokens.TargetTokens).
		Bool("met_target", tokens.MetTarget).
		Msg("combine finished")
	if cfg.StrictBudget && !tokens.MetTarget {
		return cli.Exit(fmt.Sprintf("combined document is %d tokens, target %d", tokens.TotalTokens, tokens.TargetTokens), exitOverTarget)
	}
	return nil
}

func cmdServe(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if err := needsLLM(cfg); err != nil {
		return err
	}

	srv, err := api.NewServer(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	ctx, stop := signalContext()
	defer stop()

	httpSrv := &http.Server{Addr: c.String("addr"), Handler: srv}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info().Str("addr", c.String("addr")).Msg("API listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func cmdClean(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "unused"
	}

	ctx, stop := signalContext()
	defer stop()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Clean(); err != nil {
		return err
	}
	log.Info().Str("output", cfg.OutputDir).Msg("cleaned")
	return nil
}
