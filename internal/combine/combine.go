package combine

import (
	"errors"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hyperifyio/docdistill/internal/summarize"
)

// ErrNothingToCombine is returned when no units are available, so callers can
// skip writing an empty document instead of treating it as a failure.
var ErrNothingToCombine = errors.New("nothing to combine")

var titleCaser = cases.Title(language.English)

// TitleFromName derives a display title from a storage name: the summary
// suffix and extension are stripped, separators become spaces, and words are
// capitalized.
func TitleFromName(name string) string {
	name = strings.TrimSuffix(name, ".txt")
	name = strings.TrimSuffix(name, "_summary")
	name = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, name)
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

// Combine renders units into one markdown document under the given heading.
// Units are emitted in the order given, which callers keep as discovery order
// from the source listing. The empty set yields ErrNothingToCombine rather
// than an empty document.
func Combine(units []summarize.Unit, heading string) (string, error) {
	if len(units) == 0 {
		return "", ErrNothingToCombine
	}
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, u := range units {
		b.WriteString("## ")
		b.WriteString(TitleFromName(u.Title))
		b.WriteString("\n\n")
		b.WriteString(u.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}
