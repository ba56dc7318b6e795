package predictor

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeLabel produces the lookup key for a disease label: NFKC, trimmed, lowercased.
func NormalizeLabel(label string) string {
	normed := norm.NFKC.String(label)
	normed = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return strings.ToLower(strings.TrimSpace(normed))
}

// headerCell strips a UTF-8 byte order mark; column names are otherwise compared verbatim.
func headerCell(v string) string {
	return strings.TrimPrefix(v, "\ufeff")
}
