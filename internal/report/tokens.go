package report

import "regexp"

// Markers that the report generator wraps around every flagged value.
const (
	OpenMarker  = "[[["
	CloseMarker = "]]]"
)

var tokenRe = regexp.MustCompile(`\[\[\[(.*?)\]\]\]`)

// ExtractTokens returns every marked substring in order of appearance.
// Matching is non-greedy and does not nest: each match runs from the
// leftmost open marker to the first close marker after it, so
// "[[[a [[[b]]]" yields "a [[[b". Tokens never span lines. Duplicates are
// kept.
func ExtractTokens(reportText string) []string {
	matches := tokenRe.FindAllStringSubmatch(reportText, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}
