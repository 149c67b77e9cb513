package client

import (
	"strings"
	"unicode/utf8"
)

var emotionWords = []string{"ελπίδα", "δύναμη", "αντοχή", "αγάπη", "υποστήριξη"}

// QualityScore rates a transformation between 0 and 1 from its length
// relative to the original, its absolute length and whether it carries
// an emotional keyword.
func QualityScore(original, transformed string) float64 {
	orig := max(utf8.RuneCountInString(original), 1)
	n := utf8.RuneCountInString(transformed)
	ratio := float64(n) / float64(orig)

	score := 0.0
	if ratio >= 0.3 && ratio <= 1.5 {
		score += 0.3
	}
	lower := strings.ToLower(transformed)
	for _, w := range emotionWords {
		if strings.Contains(lower, w) {
			score += 0.4
			break
		}
	}
	if n >= 50 && n <= 300 {
		score += 0.3
	}
	return min(score, 1.0)
}
