package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = os.Getenv("LLM_BASE_URL")
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = os.Getenv("LLM_MODEL")
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	}

	if cfg.StartURL == "" {
		cfg.StartURL = os.Getenv("START_URL")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.Getenv("OUTPUT_DIR")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv("CACHE_DIR")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = os.Getenv("USER_AGENT")
	}

	setInt := func(dst *int, envKey string) {
		if *dst != 0 {
			return
		}
		if s := strings.TrimSpace(os.Getenv(envKey)); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setInt(&cfg.MaxTokens, "MAX_TOKENS")
	setInt(&cfg.TargetTokens, "TARGET_TOKENS")
	setInt(&cfg.Concurrency, "CONCURRENCY")
	setInt(&cfg.MaxPages, "MAX_PAGES")

	if cfg.CacheMaxAge == 0 {
		if s := os.Getenv("CACHE_MAX_AGE"); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				cfg.CacheMaxAge = d
			}
		}
	}
	if cfg.CacheMaxBytes == 0 {
		if s := os.Getenv("CACHE_MAX_BYTES"); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
				cfg.CacheMaxBytes = n
			}
		}
	}
	setInt(&cfg.CacheMaxCount, "CACHE_MAX_COUNT")

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
		case "1", "true", "yes", "on":
			*dst = true
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	setBool(&cfg.LLMCacheOnly, "LLM_CACHE_ONLY")
	setBool(&cfg.EnablePDF, "ENABLE_PDF")
	setBool(&cfg.StrictBudget, "STRICT_BUDGET")
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This lets env take precedence over
// values coming from a config file while flags remain highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("START_URL"); v != "" {
		cfg.StartURL = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}

	setInt := func(dst *int, envKey string) {
		if s := strings.TrimSpace(os.Getenv(envKey)); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	setInt(&cfg.MaxTokens, "MAX_TOKENS")
	setInt(&cfg.TargetTokens, "TARGET_TOKENS")
	setInt(&cfg.Concurrency, "CONCURRENCY")
	setInt(&cfg.MaxPages, "MAX_PAGES")

	if s := os.Getenv("CACHE_MAX_AGE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.CacheMaxAge = d
		}
	}
	if s := os.Getenv("CACHE_MAX_BYTES"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.CacheMaxBytes = n
		}
	}
	setInt(&cfg.CacheMaxCount, "CACHE_MAX_COUNT")

	setBool := func(dst *bool, envKey string) {
		switch strings.ToLower(strings.TrimSpace(os.Getenv(envKey))) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
	setBool(&cfg.LLMCacheOnly, "LLM_CACHE_ONLY")
	setBool(&cfg.EnablePDF, "ENABLE_PDF")
	setBool(&cfg.StrictBudget, "STRICT_BUDGET")
}
