package orchestrator

import (
	"unicode/utf8"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// DefaultMinLengthRatio is the length-ratio floor a candidate must exceed.
const DefaultMinLengthRatio = 0.5

// LengthRatio returns min(len(a), len(b)) / max(len(a), len(b)) measured in
// runes. Two empty strings, or one empty string, yield 0.
func LengthRatio(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	lo, hi := min(la, lb), max(la, lb)
	if lo == 0 {
		return 0
	}
	return float64(lo) / float64(hi)
}

// FilterCandidates keeps the matches whose stored trigger text has a length
// ratio to userMessage strictly greater than minRatio. The input order, which
// is nearest first, is preserved. The result is never nil.
func FilterCandidates(matches []dialogue.Match, userMessage string, minRatio float64) []dialogue.Match {
	out := make([]dialogue.Match, 0, len(matches))
	for _, m := range matches {
		if LengthRatio(m.Record.UserMessage, userMessage) > minRatio {
			out = append(out, m)
		}
	}
	return out
}

// Best returns the first surviving candidate.
func Best(matches []dialogue.Match) (dialogue.Match, bool) {
	if len(matches) == 0 {
		return dialogue.Match{}, false
	}
	return matches[0], true
}
