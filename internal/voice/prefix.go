package voice

import (
	"strings"
	"unicode"
)

// Normalize folds an STT transcript into the canonical matching form:
// uppercase, punctuation stripped, whitespace collapsed to single spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// PrefixGate checks normalized transcripts for a leading wake phrase and
// strips it off. Phrases are stored normalized so comparison is a plain
// prefix test.
type PrefixGate struct {
	phrases []string
}

func NewPrefixGate(phrases []string) *PrefixGate {
	g := &PrefixGate{}
	for _, p := range phrases {
		if n := Normalize(p); n != "" {
			g.phrases = append(g.phrases, n)
		}
	}
	return g
}

// Check returns the transcript with the wake phrase removed and whether a
// wake phrase was present. The remainder keeps its word order.
func (g *PrefixGate) Check(normalized string) (string, bool) {
	for _, p := range g.phrases {
		if normalized == p {
			return "", true
		}
		if strings.HasPrefix(normalized, p+" ") {
			return strings.TrimSpace(normalized[len(p):]), true
		}
	}
	return normalized, false
}
