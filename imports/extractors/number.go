package extractors

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// ParseNumber reads a money amount written in any of the supported locales.
//
// The rightmost of '.' and ',' is the decimal separator when both appear. A
// lone separator followed by exactly three digits, or a separator repeated
// more than once, groups thousands, unless the integer part is zero. Negative amounts may be written with a
// leading or trailing '-' or in parentheses. When the cleaned string still
// does not parse, every non-digit is dropped.
func ParseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' || r == '−':
			neg = true
		}
	}
	clean := strings.TrimRight(b.String(), ".,")
	if strings.Trim(clean, ".,") == "" {
		return decimal.Zero, false
	}

	lastDot := strings.LastIndex(clean, ".")
	lastComma := strings.LastIndex(clean, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			clean = strings.ReplaceAll(clean, ",", "")
		} else {
			clean = strings.ReplaceAll(clean, ".", "")
			clean = strings.Replace(clean, ",", ".", 1)
		}
		clean = keepLastDot(clean)
	case lastDot >= 0:
		clean = resolveSingleSeparator(clean, ".")
	case lastComma >= 0:
		clean = resolveSingleSeparator(clean, ",")
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		digits := stripNonDigits(clean)
		if digits == "" {
			return decimal.Zero, false
		}
		d, err = decimal.NewFromString(digits)
		if err != nil {
			return decimal.Zero, false
		}
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// resolveSingleSeparator handles strings carrying only one kind of separator.
func resolveSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if strings.Trim(s[:idx], "0") == "" {
		return strings.Replace(s, sep, ".", 1)
	}
	if len(s)-idx-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// keepLastDot removes every '.' but the last one.
func keepLastDot(s string) string {
	last := strings.LastIndex(s, ".")
	if last < 0 {
		return s
	}
	return strings.ReplaceAll(s[:last], ".", "") + s[last:]
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseCell coerces a spreadsheet cell into an amount. Numeric cells decoded
// from JSON arrive as float64 and skip locale handling.
func parseCell(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case string:
		return ParseNumber(x)
	case float64:
		return decimal.NewFromFloat(x), true
	case float32, int, int32, int64:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(f), true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return decimal.Zero, false
	}
	return ParseNumber(s)
}

func cellString(v any) string {
	s, err := cast.ToStringE(v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
