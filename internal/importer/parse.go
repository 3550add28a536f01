package importer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	floatRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	intRe   = regexp.MustCompile(`\d[\d,]*`)
)

func isBlank(text string) bool {
	switch strings.ToLower(text) {
	case "", "n/a", "none", "nan":
		return true
	}
	return false
}

// ParseFloat extracts the first decimal number from s, ignoring thousands
// separators. Blank and n/a style values yield nil.
func ParseFloat(s string) *float64 {
	text := strings.TrimSpace(s)
	if isBlank(text) {
		return nil
	}
	m := floatRe.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseInt extracts the first unsigned integer from s, allowing thousands
// separators.
func ParseInt(s string) *int {
	text := strings.TrimSpace(s)
	if isBlank(text) {
		return nil
	}
	m := intRe.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return nil
	}
	return &v
}

// DealScore rates a deal from 0 to 100. diffPct is the platinum minus grand
// cru price difference in percent, negative when platinum is cheaper.
func DealScore(diffPct, rating *float64, count *int) float64 {
	discount := 0.0
	if diffPct != nil {
		discount = max(-*diffPct, 0)
	}
	discountPart := min(discount, 60)

	r := 0.0
	if rating != nil {
		r = max(min(*rating, 5), 0)
	}
	ratingPart := r / 5 * 30

	n := 0
	if count != nil {
		n = max(*count, 0)
	}
	confidencePart := min(math.Log10(float64(n)+1)/3, 1) * 10

	return round2(discountPart + ratingPart + confidencePart)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
