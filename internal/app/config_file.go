package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema. Nested sections
// map naturally to flags and env variables.
type FileConfig struct {
	Output string `yaml:"output" json:"output"`
	URL    string `yaml:"url" json:"url"`
	Input  string `yaml:"input" json:"input"`

	LLM struct {
		BaseURL string `yaml:"base" json:"base"`
		Model   string `yaml:"model" json:"model"`
		APIKey  string `yaml:"key" json:"key"`
	} `yaml:"llm" json:"llm"`

	Tokens struct {
		MaxPerChunk int `yaml:"maxPerChunk" json:"maxPerChunk"`
		Target      int `yaml:"target" json:"target"`
	} `yaml:"tokens" json:"tokens"`

	Concurrency int `yaml:"concurrency" json:"concurrency"`
	MaxPages    int `yaml:"maxPages" json:"maxPages"`

	UserAgent string `yaml:"userAgent" json:"userAgent"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`
		MaxCount    int           `yaml:"maxCount" json:"maxCount"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	EnablePDF    bool   `yaml:"enablePDF" json:"enablePDF"`
	OutputPDF    string `yaml:"outputPDF" json:"outputPDF"`
	StrictBudget bool   `yaml:"strictBudget" json:"strictBudget"`
	Verbose      bool   `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields
// that are currently unset or still at their flag defaults. Flags should
// already have been parsed; this lets the file supply defaults while
// preserving explicit flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}

	if (cfg.OutputDir == "" || cfg.OutputDir == DefaultOutputDir) && fc.Output != "" {
		cfg.OutputDir = fc.Output
	}
	if cfg.StartURL == "" && fc.URL != "" {
		cfg.StartURL = fc.URL
	}
	if cfg.InputPath == "" && fc.Input != "" {
		cfg.InputPath = fc.Input
	}

	if cfg.LLMBaseURL == "" && fc.LLM.BaseURL != "" {
		cfg.LLMBaseURL = fc.LLM.BaseURL
	}
	if cfg.LLMModel == "" && fc.LLM.Model != "" {
		cfg.LLMModel = fc.LLM.Model
	}
	if cfg.LLMAPIKey == "" && fc.LLM.APIKey != "" {
		cfg.LLMAPIKey = fc.LLM.APIKey
	}

	if (cfg.MaxTokens == 0 || cfg.MaxTokens == DefaultMaxTokens) && fc.Tokens.MaxPerChunk > 0 {
		cfg.MaxTokens = fc.Tokens.MaxPerChunk
	}
	if (cfg.TargetTokens == 0 || cfg.TargetTokens == DefaultTargetTokens) && fc.Tokens.Target > 0 {
		cfg.TargetTokens = fc.Tokens.Target
	}
	if (cfg.Concurrency == 0 || cfg.Concurrency == DefaultConcurrency) && fc.Concurrency > 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if cfg.MaxPages == 0 && fc.MaxPages > 0 {
		cfg.MaxPages = fc.MaxPages
	}

	if (cfg.UserAgent == "" || cfg.UserAgent == DefaultUserAgent) && fc.UserAgent != "" {
		cfg.UserAgent = fc.UserAgent
	}

	if (cfg.CacheDir == "" || cfg.CacheDir == DefaultCacheDir) && fc.Cache.Dir != "" {
		cfg.CacheDir = fc.Cache.Dir
	}
	if cfg.CacheMaxAge == 0 && fc.Cache.MaxAge > 0 {
		cfg.CacheMaxAge = fc.Cache.MaxAge
	}
	if cfg.CacheMaxBytes == 0 && fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	if cfg.CacheMaxCount == 0 && fc.Cache.MaxCount > 0 {
		cfg.CacheMaxCount = fc.Cache.MaxCount
	}
	if !cfg.CacheClear && fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if !cfg.CacheStrictPerms && fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}

	if !cfg.EnablePDF && fc.EnablePDF {
		cfg.EnablePDF = true
	}
	if cfg.OutputPDFPath == "" && fc.OutputPDF != "" {
		cfg.OutputPDFPath = fc.OutputPDF
	}
	if !cfg.StrictBudget && fc.StrictBudget {
		cfg.StrictBudget = true
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if trim(cfg.OutputDir) == "" {
		return errors.New("config: output directory is required")
	}
	if cfg.StartURL != "" {
		u, err := url.Parse(cfg.StartURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: start url %q must be absolute http(s)", cfg.StartURL)
		}
	}
	if trim(cfg.LLMModel) == "" {
		return errors.New("config: llm.model is required (or set LLM_MODEL)")
	}
	if cfg.MaxTokens < 0 || cfg.TargetTokens < 0 || cfg.Concurrency < 0 || cfg.MaxPages < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	return nil
}

func trim(s string) string {
	i := 0
	j := len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t' || s[j-1] == '\n' || s[j-1] == '\r') {
		j--
	}
	return s[i:j]
}
