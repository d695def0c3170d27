package resolver

import (
	"strings"
	"unicode"

	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/task"
)

// minCandidateScore drops entities that share almost nothing with the
// target phrase.
const minCandidateScore = 0.3

// stopwords are ignored when matching target phrases.
var stopwords = map[string]bool{
	"the": true, "my": true, "in": true, "of": true, "on": true, "off": true,
	"at": true, "to": true, "please": true,
	"der": true, "die": true, "das": true, "den": true, "dem": true, "des": true,
	"im": true, "ein": true, "eine": true, "einen": true, "bitte": true, "an": true, "aus": true,
}

// broadcastWords mark a target phrase that means every entity of a
// domain.
var broadcastWords = map[string]bool{
	"all": true, "every": true, "everything": true,
	"alle": true, "allen": true, "alles": true, "sämtliche": true,
}

// matchEntities scores entities against a target phrase and returns the
// ones above minCandidateScore, best first. Ties keep registry order.
func matchEntities(phrase string, entities []homeassistant.EntityInfo) []task.Candidate {
	query := queryTokens(phrase)
	if len(query) == 0 {
		return nil
	}

	var out []task.Candidate
	for _, e := range entities {
		idTokens := tokenize(e.EntityID)
		nameTokens := tokenize(e.FriendlyName)
		areaTokens := tokenize(e.Area)

		score := max(
			tokenMatchScore(query, idTokens),
			tokenMatchScore(query, nameTokens),
			tokenMatchScore(query, append(nameTokens, areaTokens...)),
			tokenMatchScore(query, append(idTokens, areaTokens...)),
		)
		if score > minCandidateScore {
			out = append(out, task.Candidate{
				EntityID:     e.EntityID,
				FriendlyName: e.FriendlyName,
				Domain:       e.Domain,
				Area:         e.Area,
				Score:        score,
			})
		}
	}
	task.SortCandidates(out)
	return out
}

// aboveThreshold counts the candidates scoring at least threshold.
func aboveThreshold(cs []task.Candidate, threshold float64) int {
	n := 0
	for _, c := range cs {
		if c.Score >= threshold {
			n++
		}
	}
	return n
}

// tokenize splits a string into lowercase tokens on anything that is
// not a letter or digit. Single characters are dropped.
func tokenize(s string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.Trim(t, "'")
		if len([]rune(t)) > 1 {
			result = append(result, t)
		}
	}
	return result
}

// queryTokens tokenizes a target phrase without stopwords.
func queryTokens(phrase string) []string {
	var out []string
	for _, t := range tokenize(phrase) {
		if !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// tokenMatchScore calculates overlap between token sets: each query
// token scores 1.0 for an exact match, 0.8 for a substring either way
// and 0.7 for an abbreviation of consecutive target tokens. The score
// is the mean over the query.
func tokenMatchScore(query, target []string) float64 {
	if len(query) == 0 || len(target) == 0 {
		return 0
	}

	total := 0.0
	for _, q := range query {
		best := 0.0
		for _, t := range target {
			score := 0.0
			switch {
			case t == q:
				score = 1.0
			case strings.Contains(t, q) || strings.Contains(q, t):
				score = 0.8
			}
			best = max(best, score)
		}
		if best == 0 && isAbbreviation(q, target) {
			best = 0.7
		}
		total += best
	}
	return total / float64(len(query))
}

// isAbbreviation reports whether abbr spells the initials of
// consecutive tokens, e.g. "ap" for "access point".
func isAbbreviation(abbr string, tokens []string) bool {
	n := len([]rune(abbr))
	if n < 2 || n > 4 || len(tokens) < n {
		return false
	}
	initials := make([]rune, len(tokens))
	for i, t := range tokens {
		initials[i] = []rune(t)[0]
	}
	return strings.Contains(string(initials), abbr)
}

// domainKeywords maps target words onto Home Assistant domains, checked
// in order. Keywords of two letters must match a whole token.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{"light", []string{"light", "lamp", "led", "bulb", "strip", "chandelier", "sconce", "fixture", "licht", "leuchte", "birne"}},
	{"switch", []string{"switch", "outlet", "plug", "relay", "steckdose", "schalter"}},
	{"fan", []string{"fan", "ventilat", "exhaust", "lüfter"}},
	{"lock", []string{"lock", "deadbolt", "schloss"}},
	{"cover", []string{"blind", "shade", "curtain", "garage", "shutter", "awning", "jalousie", "rollo", "vorhang", "markise"}},
	{"climate", []string{"thermostat", "hvac", "climate", "heating", "heater", "heizung", "klima"}},
	{"media_player", []string{"tv", "speaker", "music", "stereo", "fernseher", "lautsprecher", "musik"}},
	{"vacuum", []string{"vacuum", "staubsauger", "saugroboter"}},
	{"sensor", []string{"sensor", "temperature", "humidity", "motion", "temperatur", "feuchtigkeit"}},
}

// controllableDomains are searched when no domain is known.
var controllableDomains = map[string]bool{
	"light": true, "switch": true, "fan": true, "lock": true, "cover": true,
	"climate": true, "media_player": true, "vacuum": true, "input_boolean": true,
	"scene": true, "script": true, "humidifier": true, "valve": true,
}

// tokenDomain returns the domain a single token implies, or "".
func tokenDomain(token string) string {
	for _, d := range domainKeywords {
		for _, kw := range d.keywords {
			if len(kw) <= 2 {
				if token == kw {
					return d.domain
				}
			} else if strings.Contains(token, kw) {
				return d.domain
			}
		}
	}
	return ""
}

// inferDomain guesses the entity domain from keywords in a target
// phrase, English or German. The first keyword in domain order wins.
func inferDomain(phrase string) string {
	tokens := tokenize(phrase)
	for _, d := range domainKeywords {
		for _, t := range tokens {
			if tokenDomain(t) == d.domain {
				return d.domain
			}
		}
	}
	return ""
}
