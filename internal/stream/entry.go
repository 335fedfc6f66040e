package stream

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Track is a resolved, playable reference. RequestedBy is stamped when the
// track is enqueued.
type Track struct {
	Title       string
	URL         string
	Duration    time.Duration // zero when unknown
	RequestedBy string
}

func (t Track) DurationKnown() bool { return t.Duration > 0 }

// Entry is one node of a yt-dlp single-JSON document. A node with a non-nil
// Entries slice is a container (playlist, search result, channel tab) and
// may nest further containers.
type Entry struct {
	Type       string   `json:"_type,omitempty"`
	IEKey      string   `json:"ie_key,omitempty"`
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title,omitempty"`
	FullTitle  string   `json:"fulltitle,omitempty"`
	URL        string   `json:"url,omitempty"`
	WebpageURL string   `json:"webpage_url,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
	Entries    []*Entry `json:"entries,omitempty"`
}

var (
	httpURL      = regexp.MustCompile(`(?i)^https?://`)
	playlistLink = regexp.MustCompile(`[?&]list=`)
)

func (e *Entry) IsContainer() bool { return e != nil && e.Entries != nil }

// IsPlaylist reports whether yt-dlp tagged the node as a playlist, whether
// or not its entries were expanded.
func (e *Entry) IsPlaylist() bool {
	return e != nil && (e.Type == "playlist" || e.IEKey == "YoutubePlaylist")
}

// PlayableURL derives the URL handed to the stream process, or "".
func (e *Entry) PlayableURL() string {
	switch {
	case e == nil:
		return ""
	case e.WebpageURL != "":
		return e.WebpageURL
	case e.URL != "" && httpURL.MatchString(e.URL):
		return e.URL
	case e.ID != "":
		return "https://www.youtube.com/watch?v=" + e.ID
	case e.URL != "":
		return "https://www.youtube.com/watch?v=" + e.URL
	}
	return ""
}

// Track converts a leaf entry. Unexpanded playlist references and entries
// without a playable URL yield false.
func (e *Entry) Track() (Track, bool) {
	if e == nil || (e.IsPlaylist() && e.Entries == nil) {
		return Track{}, false
	}
	u := e.PlayableURL()
	if u == "" {
		return Track{}, false
	}
	title := e.Title
	if title == "" {
		title = e.FullTitle
	}
	if title == "" {
		title = u
	}
	var d time.Duration
	if e.Duration != nil && !math.IsNaN(*e.Duration) && !math.IsInf(*e.Duration, 0) && *e.Duration > 0 {
		d = time.Duration(*e.Duration * float64(time.Second))
	}
	return Track{Title: title, URL: u, Duration: d}, true
}

// Tracks flattens the document and converts every leaf, silently dropping
// the ones that have no playable URL.
func (e *Entry) Tracks() []Track {
	if e == nil {
		return nil
	}
	if !e.IsContainer() {
		if t, ok := e.Track(); ok {
			return []Track{t}
		}
		return nil
	}
	leaves := Flatten(e.Entries)
	out := make([]Track, 0, len(leaves))
	for _, leaf := range leaves {
		if t, ok := leaf.Track(); ok {
			out = append(out, t)
		}
	}
	return out
}

// PlaylistURL returns the node's own webpage/url when it points at a
// playlist, otherwise "".
func (e *Entry) PlaylistURL() string {
	if e == nil {
		return ""
	}
	u := e.WebpageURL
	if u == "" {
		u = e.URL
	}
	if u != "" && playlistLink.MatchString(u) {
		return u
	}
	return ""
}

// IsPlaylistLink reports whether a link carries a playlist id.
func IsPlaylistLink(link string) bool { return playlistLink.MatchString(link) }

// Flatten expands nested containers depth first, keeping order. Nil
// entries (yt-dlp emits null for unavailable items) are skipped.
func Flatten(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if e.IsContainer() {
			out = append(out, Flatten(e.Entries)...)
			continue
		}
		out = append(out, e)
	}
	return out
}

var linkPrefix = regexp.MustCompile(`(?i)^(https?://|www\.)`)

// IsLikelyURL is the link-vs-search heuristic.
func IsLikelyURL(input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	return linkPrefix.MatchString(input) || strings.Contains(strings.ToLower(input), "youtu.be") ||
		strings.Contains(strings.ToLower(input), "youtube.")
}

// SearchTarget returns input unchanged for links and a first-result search
// expression otherwise.
func SearchTarget(input string) string {
	input = strings.TrimSpace(input)
	if IsLikelyURL(input) {
		return input
	}
	return "ytsearch1:" + input
}
