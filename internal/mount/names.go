package mount

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// FoldName returns the comparison key for a display name: NFC-normalized, trimmed and
// case-folded. Two names collide when their keys are equal.
func FoldName(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

// SameName reports whether a and b collide under FoldName.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}

// NameLength counts user-perceived characters (runes after NFC normalization).
func NameLength(name string) int {
	return utf8.RuneCountInString(norm.NFC.String(strings.TrimSpace(name)))
}
