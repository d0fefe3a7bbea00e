package blog

import (
	"regexp"
	"strings"
)

// WordsPerMinute is the reading speed behind ReadingTime
const WordsPerMinute = 200

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[\s_-]+`)
)

// GenerateSlug derives a URL slug from a title: lowercase, punctuation
// removed, runs of whitespace, underscores and hyphens collapsed to one
// hyphen, no leading or trailing hyphen.
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)
	slug = slugStrip.ReplaceAllString(slug, "")
	slug = slugCollapse.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// ReadingTime estimates whole minutes to read content. Blank content counts
// as one word.
func ReadingTime(content string) int {
	words := len(strings.Fields(content))
	if words == 0 {
		words = 1
	}
	return (words + WordsPerMinute - 1) / WordsPerMinute
}
