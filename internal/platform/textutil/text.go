// Package textutil holds locale-aware string helpers.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeLanguage returns the canonical base language for a BCP-47 tag ("EN-us" becomes
// "en"). Input that does not parse is lowercased and trimmed.
func NormalizeLanguage(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return strings.ToLower(trimmed)
	}
	return base.String()
}

// Fold returns value in case-folded form for caseless comparison. Casers are stateful, so
// each call builds its own.
func Fold(value string) string {
	return cases.Fold().String(value)
}

// ContainsFold reports whether needle occurs in haystack ignoring case. An empty needle matches.
func ContainsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(Fold(haystack), Fold(needle))
}

// CollapseSpace trims value and reduces inner whitespace runs to a single space.
func CollapseSpace(value string) string {
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), " ")
}
