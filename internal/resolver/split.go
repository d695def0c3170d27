package resolver

import (
	"regexp"
	"sort"
	"strings"
)

// conjunctions lists the words that join list items, per language.
var conjunctions = map[string][]string{
	"en": {"and", "plus"},
	"de": {"und", "sowie"},
	"fr": {"et"},
	"es": {"y", "e"},
	"nl": {"en"},
	"it": {"e", "ed"},
}

// Splitter segments a compound phrase into atomic items on commas,
// semicolons, ampersands and the conjunctions of its languages.
type Splitter struct {
	re *regexp.Regexp
}

// NewSplitter builds a splitter for a locale such as "de-DE" or "fr".
// English and German conjunctions are always included.
func NewSplitter(locale string) *Splitter {
	langs := map[string]bool{"en": true, "de": true}
	lang, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(locale)), "-")
	lang, _, _ = strings.Cut(lang, "_")
	if lang != "" {
		langs[lang] = true
	}

	seen := map[string]bool{}
	var words []string
	for l := range langs {
		for _, w := range conjunctions[l] {
			if !seen[w] {
				seen[w] = true
				words = append(words, regexp.QuoteMeta(w))
			}
		}
	}
	// Longest first so "ed" is not cut short by "e".
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	conj := strings.Join(words, "|")

	// A comma or semicolon may be followed by a conjunction
	// ("eggs, and bread"). "&" and bare conjunctions need whitespace on
	// both sides so they never cut a word like "M&Ms".
	pattern := `(?i)\s*[,;]\s*(?:(?:` + conj + `)\s+)?|\s+(?:&|` + conj + `)\s+`
	return &Splitter{re: regexp.MustCompile(pattern)}
}

// Split returns the trimmed, non-empty items of text.
func (s *Splitter) Split(text string) []string {
	var items []string
	for _, part := range s.re.Split(text, -1) {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), ".!?"))
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}
