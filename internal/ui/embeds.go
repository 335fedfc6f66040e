package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
	"github.com/sonroyaalmerol/tubequeue/internal/utils"
)

const maxTitle = 200

func trackLink(t stream.Track) string {
	title := utils.EscapeMd(utils.Truncate(t.Title, maxTitle))
	if strings.HasPrefix(t.URL, "http://") || strings.HasPrefix(t.URL, "https://") {
		return fmt.Sprintf("[%s](%s)", title, t.URL)
	}
	return title
}

func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	dot := int(float64(width) * progress)
	if dot >= width {
		dot = width - 1
	}
	out := make([]rune, 0, width)
	for i := 0; i < width; i++ {
		if i == dot {
			out = append(out, '🔘')
		} else {
			out = append(out, '▬')
		}
	}
	return string(out)
}

// BuildPlayingEmbed renders the active track. A nil track yields the
// "nothing playing" embed.
func BuildPlayingEmbed(cur *stream.Track, pos time.Duration, status player.Status) *discordgo.MessageEmbed {
	if cur == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "No track is playing.",
			Color:       0x992222,
		}
	}

	progress := 0.0
	elapsed := utils.PrettyTime(pos)
	duration := "unknown"
	if cur.DurationKnown() {
		progress = float64(pos) / float64(cur.Duration)
		duration = utils.PrettyTime(cur.Duration)
		elapsed += "/" + duration
	}

	button := "▶️"
	title := "Now Playing"
	color := 0x006400
	switch status {
	case player.StatusPaused:
		button, title, color = "⏸️", "Paused", 0x8B0000
	case player.StatusAutoPaused:
		button, title, color = "⏸️", "Waiting for listeners", 0x8B0000
	}

	requester := cur.RequestedBy
	if requester == "" {
		requester = "unknown"
	}

	return &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("**%s**\n\n%s %s `[ %s ]`", trackLink(*cur), button, ProgressBar(10, progress), elapsed),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Duration", Value: duration, Inline: true},
			{Name: "Requested by", Value: requester, Inline: true},
		},
	}
}
