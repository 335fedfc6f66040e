package ui

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
	"github.com/sonroyaalmerol/tubequeue/internal/utils"
)

const queuePreview = 10

// FormatDuration is PrettyTime for known durations and "" otherwise.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return utils.PrettyTime(d)
}

// TrackLine renders "N. title [m:ss] - requested by X". A negative index
// drops the number.
func TrackLine(t stream.Track, index int, showRequester bool) string {
	var b strings.Builder
	if index >= 0 {
		fmt.Fprintf(&b, "%d. ", index+1)
	}
	b.WriteString(utils.Truncate(t.Title, maxTitle))
	if d := FormatDuration(t.Duration); d != "" {
		fmt.Fprintf(&b, " [%s]", d)
	}
	if showRequester && t.RequestedBy != "" {
		b.WriteString(" - requested by " + t.RequestedBy)
	}
	return b.String()
}

// RequesterSummary counts tracks per requester, busiest first.
func RequesterSummary(tracks []stream.Track) string {
	counts := map[string]int{}
	var order []string
	for _, t := range tracks {
		key := t.RequestedBy
		if key == "" {
			key = "unknown"
		}
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}
	if len(order) == 0 {
		return ""
	}
	slices.SortStableFunc(order, func(a, b string) int { return cmp.Compare(counts[b], counts[a]) })

	parts := make([]string, len(order))
	for i, name := range order {
		parts[i] = fmt.Sprintf("%s x%d", name, counts[name])
	}
	return "Requesters: " + strings.Join(parts, ", ")
}

func DurationSummary(tracks []stream.Track) string {
	var total time.Duration
	unknown := 0
	for _, t := range tracks {
		if t.DurationKnown() {
			total += t.Duration
		} else {
			unknown++
		}
	}
	switch {
	case total <= 0 && unknown == 0:
		return ""
	case total > 0 && unknown > 0:
		return fmt.Sprintf("Total remaining: %s + %d unknown", FormatDuration(total), unknown)
	case total > 0:
		return "Total remaining: " + FormatDuration(total)
	}
	return fmt.Sprintf("Total remaining: %d unknown", unknown)
}

// QueueMessage renders the current track and the first queued items as
// plain text.
func QueueMessage(cur *stream.Track, queue []stream.Track) string {
	if cur == nil && len(queue) == 0 {
		return "Queue is empty."
	}

	var lines []string
	var all []stream.Track
	if cur != nil {
		lines = append(lines, fmt.Sprintf("Now: **%s**", TrackLine(*cur, -1, true)))
		all = append(all, *cur)
	}
	if len(queue) > 0 {
		lines = append(lines, "Up next:")
		upcoming := queue[:min(len(queue), queuePreview)]
		for i, t := range upcoming {
			lines = append(lines, TrackLine(t, i, true))
		}
		if rest := len(queue) - len(upcoming); rest > 0 {
			lines = append(lines, fmt.Sprintf("...and %d more", rest))
		}
		all = append(all, queue...)
	}
	if s := RequesterSummary(all); s != "" {
		lines = append(lines, s)
	}
	if s := DurationSummary(all); s != "" {
		lines = append(lines, s)
	}
	return strings.Join(lines, "\n")
}

// ErrorMessage renders a recorded error for the lasterror command and the
// error channel.
func ErrorMessage(rec player.ErrorRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Last error** (%s, <t:%d:R>)\n", rec.Context, rec.Timestamp.Unix())
	if rec.Track != nil {
		fmt.Fprintf(&b, "Track: %s\n", TrackLine(*rec.Track, -1, false))
	}
	fmt.Fprintf(&b, "```\n%s\n```\nID: `%s`", rec.Summary, rec.ID)
	return b.String()
}
