package utils

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugLength = 160

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, strips diacritics and joins the remaining
// alphanumeric runs with "-". It returns "" when nothing is left.
func Slugify(s string) string {
	return slugifyWith(s, "-")
}

// SpecKey derives a machine key such as "wheel_size" from a label.
func SpecKey(label string) string {
	return slugifyWith(label, "_")
}

func slugifyWith(s, sep string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	out := nonAlnum.ReplaceAllString(b.String(), sep)
	out = strings.Trim(out, sep)
	if len(out) > maxSlugLength {
		out = strings.Trim(out[:maxSlugLength], sep)
	}
	return out
}
