package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 80

// BuildCoverName derives the object name of a cover image. The timestamp keeps re-uploads of
// the same title distinct.
func BuildCoverName(merchantID, title string, ts time.Time) (string, error) {
	merchant, err := validateSegment("merchantID", merchantID)
	if err != nil {
		return "", err
	}
	slug := Slug(title)
	if slug == "" {
		return "", fmt.Errorf("storage: title produces an empty name")
	}
	return fmt.Sprintf("%s-%s-%s", merchant, slug, strconv.FormatInt(ts.UTC().Unix(), 10)), nil
}

// BuildDocumentName derives the object name of a publication document. Backends add a
// unique suffix.
func BuildDocumentName(merchantID, title string) (string, error) {
	merchant, err := validateSegment("merchantID", merchantID)
	if err != nil {
		return "", err
	}
	slug := Slug(title)
	if slug == "" {
		return "", fmt.Errorf("storage: title produces an empty name")
	}
	return merchant + "-" + slug, nil
}

// Slug lowercases value, strips diacritics and joins alphanumeric runs with hyphens.
func Slug(value string) string {
	decomposed := norm.NFKD.String(strings.TrimSpace(value))
	var b strings.Builder
	pendingDash := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingDash = true
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	return validateSegment("name", value)
}
