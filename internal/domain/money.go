package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a string holds no recognisable amount.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount reads a monetary amount written in either Brazilian
// ("R$ 1.234,56") or English ("1,234.56") notation and returns its absolute
// value. Currency symbols, letters and whitespace are ignored.
//
// When both separators appear, the rightmost one is the decimal separator.
// A lone separator that repeats is a thousands separator, as is a single one
// between a non-zero group of one to three digits and exactly three digits
// ("R$ 1.500", "1,234"). Otherwise it is the decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.':
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.Trim(digits, ",.") == "" {
		return decimal.Zero, ErrInvalidAmount
	}

	lastComma := strings.LastIndex(digits, ",")
	lastDot := strings.LastIndex(digits, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			digits = strings.ReplaceAll(digits, ".", "")
			digits = strings.Replace(digits, ",", ".", 1)
		} else {
			digits = strings.ReplaceAll(digits, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(digits, ",") > 1 || isThousandsGroup(digits, lastComma) {
			digits = strings.ReplaceAll(digits, ",", "")
		} else {
			digits = strings.Replace(digits, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(digits, ".") > 1 || isThousandsGroup(digits, lastDot) {
			digits = strings.ReplaceAll(digits, ".", "")
		}
	}

	d, err := decimal.NewFromString(strings.TrimRight(digits, "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Abs(), nil
}

// isThousandsGroup reports whether the only separator, at sep, splits
// digits into a leading group of one to three digits without a leading zero
// and a trailing group of exactly three.
func isThousandsGroup(digits string, sep int) bool {
	head, tail := digits[:sep], digits[sep+1:]
	return len(head) >= 1 && len(head) <= 3 && head[0] != '0' && len(tail) == 3
}
