package player

import (
	"fmt"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/errclass"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
	// StatusAutoPaused means nobody is listening; frames are still
	// produced and dropped.
	StatusAutoPaused
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusAutoPaused:
		return "autopaused"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Error record contexts.
const (
	ContextPlayback = "playback"
	ContextPlayer   = "player"
)

// ErrorRecord is the last failure a session saw.
type ErrorRecord struct {
	ID        string
	GuildID   string
	Timestamp time.Time
	Context   string
	Summary   string
	Track     *stream.Track
}

type EventKind int

const (
	EventNowPlaying EventKind = iota
	EventPlaybackFailed
	EventIdleLeaving
	EventPlaylistContinued
	EventPlaylistContinuationFailed
)

// Event is a best-effort notification about a session, addressed to the
// text channel the session reports to.
type Event struct {
	Kind      EventKind
	GuildID   string
	ChannelID string
	Track     *stream.Track
	Reason    string
	Count     int
	Err       error
}

// Text renders the event as a plain message.
func (e Event) Text() string {
	switch e.Kind {
	case EventNowPlaying:
		if e.Track == nil {
			return "Now playing."
		}
		return fmt.Sprintf("Now playing **%s**", e.Track.Title)
	case EventPlaybackFailed:
		title := "track"
		if e.Track != nil {
			title = e.Track.Title
		}
		reason := e.Reason
		if reason == "" {
			reason = "Skipping."
		}
		return fmt.Sprintf("Failed to play **%s**. %s", title, reason)
	case EventIdleLeaving:
		return "Queue idle. Leaving voice channel."
	case EventPlaylistContinued:
		switch e.Count {
		case 0:
			return "No more tracks in the playlist."
		case 1:
			return "Queued 1 more track from the playlist."
		}
		return fmt.Sprintf("Queued %d more tracks from the playlist.", e.Count)
	case EventPlaylistContinuationFailed:
		return "Failed to load the rest of the playlist. " + errclass.UserMessage(e.Err, "Skipping the remainder.")
	}
	return ""
}
