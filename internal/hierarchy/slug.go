package hierarchy

import (
	"regexp"
	"strconv"
	"strings"
)

// Slug must be lowercase alphanumeric and hyphens only, 2-64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a slug from a display name.
func Slugify(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if len(s) > 56 {
		s = strings.TrimRight(s[:56], "-")
	}
	if len(s) < 2 {
		s = "tenant-" + s
		s = strings.TrimRight(s, "-")
	}
	return s
}

// ValidSlug reports whether s is an acceptable slug.
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

func withSuffix(base string, n int) string {
	return base + "-" + strconv.Itoa(n)
}
