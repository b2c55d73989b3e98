package chat

import (
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Match is the seller a customer text refers to.
type Match struct {
	Seller Seller
	// Field is "name" or "product".
	Field string
	Score int
}

// Matcher finds the seller an inbound text is about.
type Matcher interface {
	Best(text string, sellers []Seller) (Match, bool)
}

// FuzzyMatcher first looks for a seller name or product as a phrase in the
// folded text, then falls back to per-word fuzzy matching so plurals and
// small typos still hit.
type FuzzyMatcher struct {
	// MinWordLen skips short words in the fuzzy pass.
	MinWordLen int
	// Slack is how many extra runes a text word may carry over the
	// candidate word and still count.
	Slack int
}

func NewMatcher() *FuzzyMatcher {
	return &FuzzyMatcher{MinWordLen: 4, Slack: 2}
}

// phraseBonus keeps exact phrase hits above any fuzzy score.
const phraseBonus = 1 << 20

func (m *FuzzyMatcher) Best(text string, sellers []Seller) (Match, bool) {
	folded := fold(text)
	if folded == "" || len(sellers) == 0 {
		return Match{}, false
	}
	padded := " " + strings.Join(strings.Fields(folded), " ") + " "
	words := strings.Fields(folded)

	var best Match
	found := false
	consider := func(c Match) {
		if !found || c.Score > best.Score {
			best, found = c, true
		}
	}

	for _, s := range sellers {
		for _, f := range []struct{ field, value string }{{"name", s.Name}, {"product", s.Product}} {
			v := strings.Join(strings.Fields(fold(f.value)), " ")
			if v == "" {
				continue
			}
			if strings.Contains(padded, " "+v+" ") {
				// longer phrases are more specific
				consider(Match{Seller: s, Field: f.field, Score: phraseBonus + len(v)})
				continue
			}
			if score, ok := m.fuzzyScore(v, words); ok {
				consider(Match{Seller: s, Field: f.field, Score: score})
			}
		}
	}
	return best, found
}

// fuzzyScore matches every long word of the candidate against the text
// words and sums the best scores. All long words must hit.
func (m *FuzzyMatcher) fuzzyScore(candidate string, words []string) (int, bool) {
	total, hits := 0, 0
	for _, cw := range strings.Fields(candidate) {
		if len([]rune(cw)) < m.MinWordLen {
			continue
		}
		hit := false
		for _, match := range fuzzy.Find(cw, words) {
			if len([]rune(match.Str))-len([]rune(cw)) > m.Slack {
				continue
			}
			total += match.Score
			hit = true
			break
		}
		if !hit {
			return 0, false
		}
		hits++
	}
	return total, hits > 0
}

// fold lowercases and strips diacritics so "Café" matches "cafe".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, out)
}

func sameName(a, b string) bool {
	return strings.Join(strings.Fields(fold(a)), " ") == strings.Join(strings.Fields(fold(b)), " ")
}
