package extractors

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mmdatafocus/books_imports/utils"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^\s*[_\-=*]{3,}\s*$`)
	// OCR reads a capital O inside numbers as zero's twin.
	reODigit = regexp.MustCompile(`(\d)[Oo](\d)`)
)

// NormalizeText collapses noisy whitespace and fixes common OCR artifacts.
// Line breaks are kept; runs of blank lines collapse to one.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	for reODigit.MatchString(s) {
		s = reODigit.ReplaceAllString(s, "${1}0${2}")
	}
	return strings.TrimSpace(s)
}

// FoldAccents removes diacritics: "Fácturá" -> "Factura".
func FoldAccents(s string) string { return utils.FoldAccents(s) }

// normalizeLabel turns a header or label into a lookup key.
func normalizeLabel(s string) string {
	s = strings.ToLower(FoldAccents(strings.TrimSpace(s)))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
