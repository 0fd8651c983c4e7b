package pipeline

import (
	"regexp"
	"strings"
)

var (
	dateTokenRe     = regexp.MustCompile(`\d{1,2}/\d{1,2}(/\d{2,4})?`)
	currencyTokenRe = regexp.MustCompile(`(R\$|\$)?\s?\d{1,3}(?:[.,]\d{3})*[.,]\d{2}`)
	whitespaceRunRe = regexp.MustCompile(`\s{2,}`)
)

// FilterNoise keeps only the lines that carry a date-like or currency-like
// token and collapses runs of whitespace. Applying it twice is a no-op.
func FilterNoise(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !dateTokenRe.MatchString(line) && !currencyTokenRe.MatchString(line) {
			continue
		}
		kept = append(kept, whitespaceRunRe.ReplaceAllString(line, " "))
	}

	return strings.Join(kept, "\n")
}
