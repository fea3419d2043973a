package models

import (
	"strconv"
	"strings"
)

// DefaultPassingScore is the lowest numeric grade that counts as passing.
const DefaultPassingScore = 60

var failingLetterGrades = map[string]struct{}{
	"F": {}, "FAIL": {}, "NP": {}, "W": {}, "WF": {}, "I": {},
}

// IsPassingGrade reports whether a final grade satisfies a prerequisite.
// Missing grades fail. Numeric grades pass at or above threshold; letter grades pass unless failing.
func IsPassingGrade(grade *string, threshold float64) bool {
	if grade == nil {
		return false
	}
	g := strings.ToUpper(strings.TrimSpace(*grade))
	if g == "" {
		return false
	}
	if score, err := strconv.ParseFloat(g, 64); err == nil {
		return score >= threshold
	}
	_, failing := failingLetterGrades[g]
	return !failing
}
