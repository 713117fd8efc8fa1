package references

import (
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// acronyms are rendered verbatim even when the rest of a title is lowered.
var acronyms = map[string]struct{}{
	"PIE":     {},
	"RICE":    {},
	"MINEDUC": {},
	"SIE":     {},
	"TEA":     {},
	"NEE":     {},
	"PME":     {},
	"REX":     {},
	"LGE":     {},
	"DFL":     {},
	"UTP":     {},
	"OPD":     {},
	"SEP":     {},
	"JUNAEB":  {},
	"PISE":    {},
	"TDAH":    {},
	"SENDA":   {},
	"PDI":     {},
}

var knownExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
	".odt":  {},
	".rtf":  {},
	".txt":  {},
	".md":   {},
	".html": {},
	".htm":  {},
	".ppt":  {},
	".pptx": {},
	".xls":  {},
	".xlsx": {},
}

// NormalizeTitle turns a source file name or raw title into a display title.
// It is idempotent.
func NormalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if title == "" {
		return ""
	}

	title = strings.ReplaceAll(title, `\`, "/")
	title = strings.TrimRight(title, "/")
	if idx := strings.LastIndex(title, "/"); idx >= 0 {
		title = title[idx+1:]
	}
	if ext := path.Ext(title); ext != "" {
		if _, ok := knownExtensions[strings.ToLower(ext)]; ok {
			title = strings.TrimSuffix(title, ext)
		}
	}

	title = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.':
			return ' '
		}
		return r
	}, title)
	words := strings.Fields(title)
	if len(words) == 0 {
		return ""
	}

	if allUpper(words) {
		for i, w := range words {
			if _, ok := acronyms[w]; !ok {
				words[i] = strings.ToLower(w)
			}
		}
	}

	words[0] = capitalize(words[0])
	return strings.Join(words, " ")
}

// allUpper reports whether every cased letter in words is upper case and at
// least one word is not a known acronym.
func allUpper(words []string) bool {
	sawLetter := false
	onlyAcronyms := true
	for _, w := range words {
		if _, ok := acronyms[w]; !ok {
			onlyAcronyms = false
		}
		for _, r := range w {
			if unicode.IsLower(r) {
				return false
			}
			if unicode.IsUpper(r) {
				sawLetter = true
			}
		}
	}
	return sawLetter && !onlyAcronyms
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}

// foldKey is the dedupe key: accents removed, case folded.
func foldKey(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
