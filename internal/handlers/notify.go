package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/ui"
	"golang.org/x/time/rate"
)

// PostFunc sends a plain message to a text channel.
type PostFunc func(channelID, content string) error

// Notifier forwards session events to the channels sessions report to,
// and error records to the operator's error channel.
type Notifier struct {
	post         PostFunc
	announce     func(guildID string) bool
	errorChannel string
	limiter      *rate.Limiter
}

// NewNotifier builds a notifier. Error records are posted at most
// perMinute times a minute; perMinute <= 0 or an empty errorChannel
// disables them.
func NewNotifier(post PostFunc, announce func(guildID string) bool, errorChannel string, perMinute int) *Notifier {
	n := &Notifier{post: post, announce: announce, errorChannel: errorChannel}
	if errorChannel != "" && perMinute > 0 {
		n.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return n
}

func (n *Notifier) Run(ctx context.Context, events <-chan player.Event, errs <-chan player.ErrorRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			n.handleEvent(e)
		case rec, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			n.handleError(rec)
		}
	}
}

func (n *Notifier) handleEvent(e player.Event) {
	if e.ChannelID == "" {
		return
	}
	if e.Kind == player.EventNowPlaying && n.announce != nil && !n.announce(e.GuildID) {
		return
	}
	msg := e.Text()
	if msg == "" {
		return
	}
	if err := n.post(e.ChannelID, msg); err != nil {
		slog.Warn("notification failed", "guildID", e.GuildID, "channelID", e.ChannelID, "err", err)
	}
}

func (n *Notifier) handleError(rec player.ErrorRecord) {
	if n.limiter == nil {
		return
	}
	if !n.limiter.Allow() {
		slog.Debug("error notification rate limited", "guildID", rec.GuildID, "id", rec.ID)
		return
	}
	msg := fmt.Sprintf("Guild `%s`\n%s", rec.GuildID, ui.ErrorMessage(rec))
	if err := n.post(n.errorChannel, msg); err != nil {
		slog.Warn("error notification failed", "channelID", n.errorChannel, "err", err)
	}
}
