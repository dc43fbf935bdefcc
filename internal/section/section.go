package section

import (
	"regexp"
	"strings"

	"github.com/hyperifyio/docdistill/internal/token"
)

// Section is one titled block of a source document, delimited by a heading.
// Sections are immutable once created; the packer only reads them.
type Section struct {
	Title   string
	Content string
	// Level records heading depth, 1 for top-level. Plain-text headings are
	// always level 1.
	Level      int
	TokenCount int
}

var (
	// Markdown heading: a run of 1-6 '#' at the start of the line, then text.
	markdownHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	// Plain-text heading heuristic: a short line that starts with a capital
	// letter and carries no punctuation at all. Scraped documentation often
	// loses its markup, so bare title lines are the only structure left.
	plainHeadingRe = regexp.MustCompile(`^[A-Z][A-Za-z0-9 \t]{2,49}$`)
)

// Extractor splits raw document text into an ordered sequence of titled
// sections. It never fails: input without any recognizable heading collapses
// into a single whole-document section.
type Extractor struct {
	Counter token.Counter
}

// Extract scans raw line by line. A heading closes the section in progress,
// which is emitted only when its accumulated body is non-empty after
// trimming, so back-to-back headings never produce empty sections. Text
// before the first heading belongs to no section and is dropped. When the
// scan produces nothing and the input is non-blank, the whole trimmed input
// becomes one level-1 section titled docID. Extraction is deterministic:
// identical input yields an identical section sequence.
func (e *Extractor) Extract(docID, raw string) []Section {
	var sections []Section
	var title string
	level := 0
	open := false
	var body []string

	flush := func() {
		if !open {
			return
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" {
			return
		}
		sections = append(sections, Section{
			Title:      title,
			Content:    content,
			Level:      level,
			TokenCount: e.Counter.Count(content),
		})
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := markdownHeadingRe.FindStringSubmatch(line); m != nil {
			flush()
			title = strings.TrimSpace(m[2])
			level = len(m[1])
			open = true
			body = body[:0]
			continue
		}
		if plainHeadingRe.MatchString(line) {
			flush()
			title = strings.TrimSpace(line)
			level = 1
			open = true
			body = body[:0]
			continue
		}
		if open {
			body = append(body, line)
		}
	}
	flush()

	if len(sections) == 0 {
		if content := strings.TrimSpace(raw); content != "" {
			sections = append(sections, Section{
				Title:      docID,
				Content:    content,
				Level:      1,
				TokenCount: e.Counter.Count(content),
			})
		}
	}
	return sections
}
