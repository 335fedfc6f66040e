package handlers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type posted struct {
	channelID string
	content   string
}

type postRecorder struct {
	mu    sync.Mutex
	posts []posted
}

func (r *postRecorder) post(channelID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, posted{channelID, content})
	return nil
}

func (r *postRecorder) all() []posted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]posted(nil), r.posts...)
}

func TestNotifierEvents(t *testing.T) {
	rec := &postRecorder{}
	announce := map[string]bool{"loud": true, "quiet": false}
	n := NewNotifier(rec.post, func(g string) bool { return announce[g] }, "", 0)

	track := &stream.Track{Title: "Song"}
	n.handleEvent(player.Event{Kind: player.EventNowPlaying, GuildID: "loud", ChannelID: "c1", Track: track})
	n.handleEvent(player.Event{Kind: player.EventNowPlaying, GuildID: "quiet", ChannelID: "c2", Track: track})
	n.handleEvent(player.Event{Kind: player.EventIdleLeaving, GuildID: "quiet", ChannelID: "c2"})
	n.handleEvent(player.Event{Kind: player.EventIdleLeaving, GuildID: "loud"})

	assert.Equal(t, []posted{
		{"c1", "Now playing **Song**"},
		{"c2", "Queue idle. Leaving voice channel."},
	}, rec.all())
}

func TestNotifierErrorsAreRateLimited(t *testing.T) {
	rec := &postRecorder{}
	n := NewNotifier(rec.post, nil, "errors", 1)

	r := player.ErrorRecord{ID: "id-1", GuildID: "g1", Timestamp: time.Now(), Context: player.ContextPlayback, Summary: "boom"}
	n.handleError(r)
	n.handleError(r)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, "errors", got[0].channelID)
	assert.Contains(t, got[0].content, "Guild `g1`")
	assert.Contains(t, got[0].content, "boom")
}

func TestNotifierErrorsDisabled(t *testing.T) {
	rec := &postRecorder{}
	NewNotifier(rec.post, nil, "", 10).handleError(player.ErrorRecord{ID: "x"})
	NewNotifier(rec.post, nil, "errors", 0).handleError(player.ErrorRecord{ID: "y"})
	assert.Empty(t, rec.all())
}

func TestNotifierRun(t *testing.T) {
	rec := &postRecorder{}
	n := NewNotifier(rec.post, nil, "errors", 60)

	events := make(chan player.Event, 1)
	errs := make(chan player.ErrorRecord, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, events, errs)
		close(done)
	}()

	events <- player.Event{Kind: player.EventPlaylistContinued, ChannelID: "c1", Count: 3}
	errs <- player.ErrorRecord{ID: "e1", Summary: "bad"}
	require.Eventually(t, func() bool { return len(rec.all()) == 2 }, wait, tick)

	cancel()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("Run did not return")
	}
}
