// Package errclass turns raw yt-dlp / playback failure text into a category
// and a message that can be shown to listeners.
package errclass

import (
	"regexp"
	"strings"
)

// DefaultSummaryLength is the summary size stored in diagnostic records.
const DefaultSummaryLength = 280

type Category string

const (
	CategoryAgeRestricted Category = "age_restricted"
	CategoryPrivate       Category = "private"
	CategoryGeoBlocked    Category = "geo_blocked"
	CategoryUnavailable   Category = "unavailable"
	CategoryFormatBlocked Category = "format_blocked"
	CategoryTimeout       Category = "timeout"
)

type Classification struct {
	Category Category
	Message  string
}

type pattern struct {
	category Category
	re       *regexp.Regexp
	message  string
}

// Order matters: the first matching pattern wins.
var patterns = []pattern{
	{
		CategoryAgeRestricted,
		regexp.MustCompile(`(?i)sign in to confirm your age|age-restricted`),
		"This video is age-restricted. Provide valid YouTube cookies.",
	},
	{
		CategoryPrivate,
		regexp.MustCompile(`(?i)private video`),
		"This video is private and requires access.",
	},
	{
		CategoryGeoBlocked,
		regexp.MustCompile(`(?i)not available in your country`),
		"This video is not available in your region.",
	},
	{
		CategoryUnavailable,
		regexp.MustCompile(`(?i)video unavailable|this video is not available|account associated with this video has been terminated`),
		"This video is unavailable or has been removed.",
	},
	{
		CategoryFormatBlocked,
		regexp.MustCompile(`(?i)only images are available|requested format is not available|signature solving failed|n challenge solving failed`),
		"YouTube blocked format extraction. Check yt-dlp remote components and cookies.",
	},
	{
		CategoryTimeout,
		regexp.MustCompile(`(?i)timed out`),
		"The stream timed out while starting.",
	},
}

var whitespace = regexp.MustCompile(`\s+`)

// PickLine returns the first trimmed line starting with "ERROR:", else the
// first non-empty line, else "".
func PickLine(raw string) string {
	first := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			return line
		}
		if first == "" {
			first = line
		}
	}
	return first
}

// Classify maps raw failure text to a known category. The picked line is
// tested first, then the whole text, so multi-line stderr with the cause on
// a non-ERROR line still matches.
func Classify(raw string) (Classification, bool) {
	if strings.TrimSpace(raw) == "" {
		return Classification{}, false
	}
	if c, ok := match(PickLine(raw)); ok {
		return c, true
	}
	return match(raw)
}

// ClassifyError is Classify over err.Error(); a nil error never matches.
func ClassifyError(err error) (Classification, bool) {
	if err == nil {
		return Classification{}, false
	}
	return Classify(err.Error())
}

// UserMessage returns the classified message for err, or fallback.
func UserMessage(err error, fallback string) string {
	if c, ok := ClassifyError(err); ok {
		return c.Message
	}
	return fallback
}

func match(text string) (Classification, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return Classification{Category: p.category, Message: p.message}, true
		}
	}
	return Classification{}, false
}

// Summarize collapses the picked line's whitespace and truncates it to
// maxLength runes with a trailing "...". maxLength <= 0 uses the default.
func Summarize(raw string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultSummaryLength
	}
	base := PickLine(raw)
	if base == "" {
		base = raw
	}
	compact := strings.TrimSpace(whitespace.ReplaceAllString(base, " "))
	runes := []rune(compact)
	if len(runes) <= maxLength {
		return compact
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-3]) + "..."
}

// SummarizeError is Summarize over err.Error() with the default length.
func SummarizeError(err error) string {
	if err == nil {
		return ""
	}
	return Summarize(err.Error(), DefaultSummaryLength)
}
