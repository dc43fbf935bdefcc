package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperifyio/docdistill/internal/chunk"
	"github.com/hyperifyio/docdistill/internal/summarize"
)

// Directory names under the store root. Chunks and summaries are the durable
// handoff between pipeline stages: a stage writes its outputs here and the
// next stage reads them back, so each stage can also run standalone.
const (
	DocsDirName      = "documentation"
	ChunksDirName    = "chunks"
	SummariesDirName = "summaries"
	OptimizedDirName = "optimized"
)

// Combined document filenames under the summaries directory.
const (
	CombinedName          = "combined_summary.md"
	OptimizedCombinedName = "combined_optimized_summary.md"
)

const summarySuffix = "_summary.txt"

// Page is one stored source document: the text of a scraped or ingested page
// plus its origin and measured token cost.
type Page struct {
	Name       string
	URL        string
	TokenCount int
	Text       string
}

// Store lays out pipeline artifacts under a single root directory.
type Store struct {
	Root string
}

// Open ensures the store's directory tree exists.
func Open(root string) (*Store, error) {
	s := &Store{Root: root}
	for _, dir := range []string{
		s.DocsDir(), s.ChunksDir(), s.SummariesDir(), s.OptimizedDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return s, nil
}

func (s *Store) DocsDir() string      { return filepath.Join(s.Root, DocsDirName) }
func (s *Store) ChunksDir() string    { return filepath.Join(s.Root, ChunksDirName) }
func (s *Store) SummariesDir() string { return filepath.Join(s.Root, SummariesDirName) }
func (s *Store) OptimizedDir() string {
	return filepath.Join(s.Root, SummariesDirName, OptimizedDirName)
}

// Slug converts a free-form title into a safe file stem: lowercase, runs of
// anything but letters and digits become a single underscore, capped at 100
// characters.
func Slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "untitled"
	}
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}

// SavePage writes one source document with its URL and token count recorded
// in header lines before the body. A name collision gets a numeric suffix so
// concurrent writers never share a key. Returns the page name used.
func (s *Store) SavePage(title, url string, tokenCount int, text string) (string, error) {
	name := Slug(title)
	path := filepath.Join(s.DocsDir(), name+".txt")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		name = Slug(title) + "_" + strconv.Itoa(i)
		path = filepath.Join(s.DocsDir(), name+".txt")
	}
	body := fmt.Sprintf("URL: %s\nToken Count: %d\n\n%s", url, tokenCount, text)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("write page %s: %w", name, err)
	}
	return name, nil
}

// ListPages reads back every stored document in name order, parsing the URL
// and token count header lines. A file without the headers is still returned
// with its whole content as text.
func (s *Store) ListPages() ([]Page, error) {
	entries, err := os.ReadDir(s.DocsDir())
	if err != nil {
		return nil, fmt.Errorf("read docs dir: %w", err)
	}
	var pages []Page
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.DocsDir(), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", e.Name(), err)
		}
		pages = append(pages, parsePage(strings.TrimSuffix(e.Name(), ".txt"), string(raw)))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Name < pages[j].Name })
	return pages, nil
}

func parsePage(name, raw string) Page {
	p := Page{Name: name, Text: raw}
	rest := raw
	if strings.HasPrefix(rest, "URL: ") {
		line, tail, _ := strings.Cut(rest, "\n")
		p.URL = strings.TrimPrefix(line, "URL: ")
		rest = tail
	}
	if strings.HasPrefix(rest, "Token Count: ") {
		line, tail, _ := strings.Cut(rest, "\n")
		if n, err := strconv.Atoi(strings.TrimPrefix(line, "Token Count: ")); err == nil {
			p.TokenCount = n
		}
		rest = tail
	}
	if p.URL != "" || p.TokenCount != 0 {
		p.Text = strings.TrimLeft(rest, "\n")
	}
	return p
}

// SaveChunks persists a document's chunks as numbered JSON files. Keys are
// assigned here, before any summarization is dispatched.
func (s *Store) SaveChunks(docName string, chunks []chunk.Chunk) ([]string, error) {
	names := make([]string, 0, len(chunks))
	for i, c := range chunks {
		name := fmt.Sprintf("%s_part_%d", Slug(docName), i+1)
		data, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal chunk %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(s.ChunksDir(), name+".json"), data, 0o644); err != nil {
			return nil, fmt.Errorf("write chunk %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// NamedChunk pairs a stored chunk with its storage key.
type NamedChunk struct {
	Name  string
	Chunk chunk.Chunk
}

// ListChunks reads every stored chunk in name order. An unreadable or
// malformed file fails only that item; the caller decides whether a partial
// set is acceptable.
func (s *Store) ListChunks() ([]NamedChunk, []error) {
	entries, err := os.ReadDir(s.ChunksDir())
	if err != nil {
		return nil, []error{fmt.Errorf("read chunks dir: %w", err)}
	}
	var out []NamedChunk
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.ChunksDir(), e.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("read chunk %s: %w", e.Name(), err))
			continue
		}
		var c chunk.Chunk
		if err := json.Unmarshal(raw, &c); err != nil {
			errs = append(errs, fmt.Errorf("parse chunk %s: %w", e.Name(), err))
			continue
		}
		out = append(out, NamedChunk{Name: strings.TrimSuffix(e.Name(), ".json"), Chunk: c})
	}
	sort.Slice(out, func(i, j int) bool { return chunkLess(out[i].Name, out[j].Name) })
	return out, errs
}

// chunkLess orders chunk names so part_10 sorts after part_9, keeping
// summaries in source order.
func chunkLess(a, b string) bool {
	as, an := splitPart(a)
	bs, bn := splitPart(b)
	if as != bs {
		return as < bs
	}
	return an < bn
}

func splitPart(name string) (string, int) {
	i := strings.LastIndex(name, "_part_")
	if i < 0 {
		return name, 0
	}
	n, err := strconv.Atoi(name[i+len("_part_"):])
	if err != nil {
		return name, 0
	}
	return name[:i], n
}

// SaveSummary writes one summary under the summaries directory and returns
// its path.
func (s *Store) SaveSummary(name, content string) (string, error) {
	path := filepath.Join(s.SummariesDir(), name+summarySuffix)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write summary %s: %w", name, err)
	}
	return path, nil
}

// SaveOptimized writes one reduced summary under summaries/optimized.
func (s *Store) SaveOptimized(name, content string) (string, error) {
	path := filepath.Join(s.OptimizedDir(), name+summarySuffix)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write optimized summary %s: %w", name, err)
	}
	return path, nil
}

// ListSummaries reads summaries from dir in name order, one unit per file,
// skipping empty files. Discovery order here is what the combiner preserves.
func (s *Store) ListSummaries(dir string) ([]summarize.Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read summaries dir: %w", err)
	}
	var units []summarize.Unit
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), summarySuffix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read summary %s: %w", e.Name(), err)
		}
		content := strings.TrimSpace(string(raw))
		if content == "" {
			continue
		}
		units = append(units, summarize.Unit{
			Title:      strings.TrimSuffix(e.Name(), summarySuffix),
			Content:    content,
			OutputPath: path,
		})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Title < units[j].Title })
	return units, nil
}

// WriteCombined stores a combined document under the summaries directory and
// returns its path. Later runs overwrite earlier ones.
func (s *Store) WriteCombined(name, text string) (string, error) {
	path := filepath.Join(s.SummariesDir(), name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write combined document: %w", err)
	}
	return path, nil
}

// Clean removes every derived directory under the root. The next Open
// recreates the layout.
func (s *Store) Clean() error {
	for _, dir := range []string{s.DocsDir(), s.ChunksDir(), s.SummariesDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean %s: %w", dir, err)
		}
	}
	return nil
}
