package sponsorblock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/cache"
	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

const (
	edgeSlack     = 2 * time.Second
	lookupTimeout = 3 * time.Second
	frameDuration = 20 * time.Millisecond
	cacheLimit    = 1024
)

// Window is the part of a track worth playing. A zero End plays to the end.
type Window struct {
	Start time.Duration
	End   time.Duration
}

type Applier struct {
	client     *Client
	cache      *cache.TTL[[]Segment]
	disableFor time.Duration
	now        func() time.Time

	mu            sync.Mutex
	disabledUntil time.Time
}

// NewApplier returns an applier that stops querying for backoff after the
// service reports it is unavailable.
func NewApplier(backoff time.Duration) *Applier {
	return &Applier{
		client:     NewClient(),
		cache:      cache.NewTTL[[]Segment](time.Hour, cacheLimit),
		disableFor: backoff,
		now:        time.Now,
	}
}

// Window returns the playable window for a video. ok is false when nothing
// needs trimming or segments could not be fetched.
func (a *Applier) Window(ctx context.Context, videoID string) (Window, bool) {
	if videoID == "" {
		return Window{}, false
	}
	a.mu.Lock()
	disabled := a.now().Before(a.disabledUntil)
	a.mu.Unlock()
	if disabled {
		return Window{}, false
	}

	segs, ok := a.cache.Get(videoID)
	if !ok {
		var err error
		segs, err = a.client.GetSegments(ctx, videoID, []string{categoryMusicOfftopic})
		if err != nil {
			if errors.Is(err, ErrUnavailable) {
				a.mu.Lock()
				a.disabledUntil = a.now().Add(a.disableFor)
				a.mu.Unlock()
			}
			slog.Debug("sponsorblock lookup failed", "videoID", videoID, "err", err)
			return Window{}, false
		}
		a.cache.Set(videoID, segs)
	}
	return window(segs)
}

func window(segs []Segment) (Window, bool) {
	if len(segs) == 0 {
		return Window{}, false
	}
	segs = MergeSegments(segs)

	var w Window
	first := segs[0]
	if first.Start() <= edgeSlack && first.End() > 0 {
		w.Start = first.End()
	}

	last := segs[len(segs)-1]
	if length := seconds(last.VideoDuration); length > 0 && last.End() >= length-edgeSlack && last.Start() > w.Start {
		w.End = last.Start()
	}

	if w.Start == 0 && w.End == 0 {
		return Window{}, false
	}
	return w, true
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoID extracts the YouTube video id from a watch, short or youtu.be URL.
func VideoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com":
		if strings.HasPrefix(u.Path, "/shorts/") {
			id = strings.TrimPrefix(u.Path, "/shorts/")
		} else {
			id = u.Query().Get("v")
		}
	}
	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// trimmed plays only the frames inside a window.
type trimmed struct {
	stream.Source
	skip  int
	limit int // 0 is unbounded
	n     int
}

func trim(src stream.Source, w Window) stream.Source {
	return &trimmed{
		Source: src,
		skip:   int(w.Start / frameDuration),
		limit:  int(w.End / frameDuration),
	}
}

func (t *trimmed) ReadFrame() ([]byte, error) {
	for t.n < t.skip {
		if _, err := t.Source.ReadFrame(); err != nil {
			return nil, err
		}
		t.n++
	}
	if t.limit > 0 && t.n >= t.limit {
		return nil, io.EOF
	}
	frame, err := t.Source.ReadFrame()
	if err == nil {
		t.n++
	}
	return frame, err
}

type provisioner struct {
	next    player.Provisioner
	applier *Applier
}

// Wrap returns a provisioner that trims off-topic intros and outros from
// YouTube sources opened by next.
func Wrap(next player.Provisioner, a *Applier) player.Provisioner {
	return provisioner{next: next, applier: a}
}

func (p provisioner) Open(ctx context.Context, url string, volume float64) (stream.Source, player.Process, error) {
	src, proc, err := p.next.Open(ctx, url, volume)
	if err != nil {
		return nil, nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	w, ok := p.applier.Window(lctx, VideoID(url))
	if !ok {
		return src, proc, nil
	}
	slog.Debug("sponsorblock trimming", "url", url, "start", w.Start, "end", w.End)
	return trim(src, w), proc, nil
}
