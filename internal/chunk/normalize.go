package chunk

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	dupPeriodRe  = regexp.MustCompile(`\.{2,}`)
	dupBangRe    = regexp.MustCompile(`!{2,}`)
	dupQueryRe   = regexp.MustCompile(`\?{2,}`)
	fillerRe     = regexp.MustCompile(`(?i)(?:as mentioned earlier|as discussed above|as we can see|it is worth noting that|it should be noted that|it is important to note that)`)
)

// Normalize flattens whitespace runs to single spaces, collapses repeated
// terminal punctuation, and strips boilerplate filler phrases. A chunk's
// stored token count is measured from the normalized text, so this must run
// before the count is recorded.
func Normalize(text string) string {
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = dupPeriodRe.ReplaceAllString(text, ".")
	text = dupBangRe.ReplaceAllString(text, "!")
	text = dupQueryRe.ReplaceAllString(text, "?")
	text = fillerRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
