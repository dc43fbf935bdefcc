package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/docdistill/internal/store"
	"github.com/hyperifyio/docdistill/internal/token"
)

// Ingester feeds local files into the document store so they flow through
// the same chunking and summarization pipeline as scraped pages.
type Ingester struct {
	Store   *store.Store
	Counter token.Counter
}

// Ingest reads one local file, converts it to markdown-style text, and
// stores it as a page. The file's base name becomes the page title and its
// path becomes the source identifier. Unsupported extensions are an error.
func (g *Ingester) Ingest(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var text string
	var err error
	switch ext {
	case ".txt":
		text, err = readPlain(path)
	case ".md", ".markdown":
		text, err = readMarkdown(path)
	case ".pdf":
		text, err = readPDF(path)
	case ".docx":
		text, err = readDOCX(path)
	default:
		return "", fmt.Errorf("unsupported file type %q (want .txt, .md, .pdf, or .docx)", ext)
	}
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", path, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("ingest %s: no text content", path)
	}

	title := strings.TrimSuffix(filepath.Base(path), ext)
	tokens := g.Counter.Count(text)
	name, err := g.Store.SavePage(title, "file://"+path, tokens, text)
	if err != nil {
		return "", err
	}
	log.Info().Str("path", path).Str("name", name).Int("tokens", tokens).Msg("file ingested")
	return name, nil
}

// IngestDir ingests every supported file directly under dir, skipping
// unsupported ones with a warning. Returns how many files were stored.
func (g *Ingester) IngestDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir: %w", err)
	}
	stored := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := g.Ingest(filepath.Join(dir, e.Name())); err != nil {
			log.Warn().Err(err).Str("file", e.Name()).Msg("skipping file")
			continue
		}
		stored++
	}
	return stored, nil
}

func readPlain(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
