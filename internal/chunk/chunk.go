package chunk

import (
	"strings"

	"github.com/hyperifyio/docdistill/internal/section"
	"github.com/hyperifyio/docdistill/internal/token"
)

// headerOverhead pads each section's measured cost to cover the heading
// markup added at serialization time, so packing decisions can run before
// any text is built.
const headerOverhead = 50

// splitReserve is held back from the chunk budget when an oversized section
// is split on word boundaries. Per-word costs are measured incrementally and
// the reserve absorbs the continuation heading plus measurement drift.
const splitReserve = 100

// Chunk is one token-bounded unit of work for the summarizer. Text is the
// fully serialized, normalized form and TokenCount is measured from exactly
// that text, never carried over from pre-serialization estimates.
type Chunk struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	TokenCount int    `json:"token_count"`
}

// Packer groups sections into chunks of at most MaxTokens tokens using a
// single greedy pass that preserves section order.
type Packer struct {
	Counter   token.Counter
	MaxTokens int
}

// Pack bins sections into chunks in input order. A section whose padded cost
// exceeds MaxTokens on its own is split on word boundaries into continuation
// chunks; everything else is packed greedily, flushing the open chunk
// whenever the next section would overflow it. Every emitted chunk stays
// within MaxTokens except a word-split fragment carrying a single word too
// large for the budget, which may overshoot by at most that word's cost.
// Source tags each chunk with its originating document identifier.
func (p *Packer) Pack(sections []section.Section, source string) []Chunk {
	var chunks []Chunk
	var open []section.Section
	openTokens := 0

	flush := func() {
		if len(open) == 0 {
			return
		}
		text := p.serialize(open)
		chunks = append(chunks, Chunk{Text: text, Source: source, TokenCount: p.Counter.Count(text)})
		open = open[:0]
		openTokens = 0
	}

	for _, sec := range sections {
		cost := sec.TokenCount + headerOverhead
		switch {
		case cost > p.MaxTokens:
			// Too large for any chunk. Split fragments stand alone and never
			// merge with neighboring sections.
			flush()
			chunks = append(chunks, p.splitOversized(sec, source)...)
		case openTokens+cost <= p.MaxTokens:
			open = append(open, sec)
			openTokens += cost
		default:
			flush()
			open = append(open, sec)
			openTokens = cost
		}
	}
	flush()
	return chunks
}

// serialize renders sections as heading lines and bodies separated by blank
// lines, then normalizes the result before it is measured.
func (p *Packer) serialize(sections []section.Section) string {
	parts := make([]string, 0, len(sections)*2)
	for _, sec := range sections {
		parts = append(parts, strings.Repeat("#", sec.Level)+" "+sec.Title)
		parts = append(parts, sec.Content)
	}
	return Normalize(strings.Join(parts, "\n\n"))
}

// splitOversized cuts a section's content into maximal word runs that fit the
// reduced budget, each emitted as its own continuation chunk. A single word
// larger than the budget still becomes a fragment on its own; that is the one
// place the packing bound is allowed to slip.
func (p *Packer) splitOversized(sec section.Section, source string) []Chunk {
	budget := p.MaxTokens - splitReserve
	var out []Chunk
	var part []string
	partTokens := 0

	emit := func() {
		if len(part) == 0 {
			return
		}
		text := "# " + sec.Title + " (continued)\n\n" + strings.Join(part, " ")
		out = append(out, Chunk{Text: text, Source: source, TokenCount: p.Counter.Count(text)})
		part = part[:0]
		partTokens = 0
	}

	for _, word := range strings.Fields(sec.Content) {
		wordTokens := p.Counter.Count(word + " ")
		if partTokens+wordTokens > budget {
			emit()
		}
		part = append(part, word)
		partTokens += wordTokens
	}
	emit()
	return out
}
