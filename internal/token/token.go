package token

import "math"

// Counter measures the token cost of a piece of text. Implementations must be
// deterministic: identical input always yields an identical count. A single
// Counter instance is shared across every stage of a pipeline run so that
// budget arithmetic stays consistent end to end.
type Counter interface {
	Count(text string) int
}

// DefaultCharsPerToken is the character-to-token ratio used by
// HeuristicCounter when none is configured. Roughly four characters per token
// holds for English prose across common BPE tokenizers.
const DefaultCharsPerToken = 4

// HeuristicCounter approximates token cost from character length. It is the
// default cost oracle for the pipeline; callers that need exact counts can
// supply their own Counter backed by a real tokenizer.
type HeuristicCounter struct {
	// CharsPerToken overrides the default ratio when > 0.
	CharsPerToken int
}

// Count returns a conservative token estimate for text. Empty input costs
// zero; everything else rounds up so downstream budget checks never
// undercount.
func (c HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	per := c.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	return int(math.Ceil(float64(len(text)) / float64(per)))
}
