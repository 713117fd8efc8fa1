// Package references renders the citation block appended to assistant answers.
package references

import (
	"strings"

	"github.com/Wachitugo/ConvivenciaLaboral-sub001/internal/retrieval"
)

// MaxPerKind bounds how many titles of each source kind are listed.
const MaxPerKind = 3

const (
	heading         = "**Referencias**"
	handbookLabel   = "Documentos del establecimiento:"
	regulationLabel = "Normativa:"
)

// Format renders a citation block for passages, or "" when no title
// survives normalization. Titles are deduplicated across both source kinds,
// the first occurrence wins. highlightTitle, when present among the
// survivors, is listed first within its kind and set in bold.
func Format(passages []retrieval.Passage, highlightTitle string) string {
	highlightKey := ""
	if h := NormalizeTitle(highlightTitle); h != "" {
		highlightKey = foldKey(h)
	}

	seen := make(map[string]struct{}, len(passages))
	var handbook, regulation []entry
	for _, p := range passages {
		title := NormalizeTitle(p.Title)
		if title == "" {
			continue
		}
		key := foldKey(title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		e := entry{title: title, highlight: highlightKey != "" && key == highlightKey}
		if p.SourceKind == retrieval.SourceInternalHandbook {
			handbook = append(handbook, e)
		} else {
			regulation = append(regulation, e)
		}
	}

	handbook = limit(promote(handbook))
	regulation = limit(promote(regulation))
	if len(handbook) == 0 && len(regulation) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(heading)
	writeSection(&b, handbookLabel, handbook)
	writeSection(&b, regulationLabel, regulation)
	return b.String()
}

type entry struct {
	title     string
	highlight bool
}

func promote(entries []entry) []entry {
	for i, e := range entries {
		if e.highlight && i > 0 {
			out := make([]entry, 0, len(entries))
			out = append(out, e)
			out = append(out, entries[:i]...)
			return append(out, entries[i+1:]...)
		}
	}
	return entries
}

func limit(entries []entry) []entry {
	if len(entries) > MaxPerKind {
		return entries[:MaxPerKind]
	}
	return entries
}

func writeSection(b *strings.Builder, label string, entries []entry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(label)
	for _, e := range entries {
		b.WriteString("\n- ")
		if e.highlight {
			b.WriteString("**" + e.title + "**")
			continue
		}
		b.WriteString(e.title)
	}
}
