package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

var ErrNotSpotify = errors.New("not a spotify link")

const topTracksMarket = "US"

type Track struct {
	Name     string
	Artist   string
	Duration time.Duration
}

// Query is the search expression handed to the extraction process.
func (t Track) Query() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}

// StreamTrack converts t into a lazily searched track.
func (t Track) StreamTrack() stream.Track {
	return stream.Track{
		Title:    t.Query(),
		URL:      "ytsearch1:" + t.Query(),
		Duration: t.Duration,
	}
}

// Client expands Spotify links into search-backed tracks.
type Client struct {
	raw *spotify.Client
}

var _ player.LinkSource = (*Client)(nil)

func NewClientCredentials(ctx context.Context, clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(ctx)
	return &Client{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

// ParseID accepts open.spotify.com links and spotify: URIs.
func ParseID(raw string) (typ string, id spotify.ID, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[2] != "" {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI: %w", ErrNotSpotify)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
		return "", "", ErrNotSpotify
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// localized links carry a leading intl-xx segment
	if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
		parts = parts[1:]
	}
	if len(parts) < 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid spotify URL path: %w", ErrNotSpotify)
	}
	switch parts[0] {
	case "album", "playlist", "track", "artist":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", parts[0])
}

func (c *Client) Match(ref string) bool {
	_, _, err := ParseID(ref)
	return err == nil
}

// Tracks expands ref into at most limit tracks (limit <= 0 is unbounded).
func (c *Client) Tracks(ctx context.Context, ref string, limit int) ([]stream.Track, error) {
	typ, id, err := ParseID(ref)
	if err != nil {
		return nil, err
	}

	var tracks []Track
	switch typ {
	case "track":
		var t Track
		t, err = c.GetTrack(ctx, id)
		tracks = []Track{t}
	case "album":
		tracks, err = c.GetAlbum(ctx, id, limit)
	case "playlist":
		tracks, err = c.GetPlaylist(ctx, id, limit)
	case "artist":
		tracks, err = c.GetArtistTop(ctx, id, limit)
	default:
		err = fmt.Errorf("unsupported spotify type %q", typ)
	}
	if err != nil {
		return nil, fmt.Errorf("spotify %s %s: %w", typ, id, err)
	}

	out := make([]stream.Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.StreamTrack())
	}
	return out, nil
}

func simple(t spotify.SimpleTrack) Track {
	artist := ""
	if len(t.Artists) > 0 {
		artist = t.Artists[0].Name
	}
	return Track{Name: t.Name, Artist: artist, Duration: time.Duration(t.Duration) * time.Millisecond}
}

func (c *Client) GetTrack(ctx context.Context, id spotify.ID) (Track, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return Track{}, err
	}
	return simple(t.SimpleTrack), nil
}

func (c *Client) GetAlbum(ctx context.Context, id spotify.ID, limit int) ([]Track, error) {
	page, err := c.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.SimpleTrack) {
		for _, t := range items {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, simple(t))
		}
	}
	add(page.Tracks)
	for page.Next != "" && (limit <= 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Tracks)
	}
	return out, nil
}

func (c *Client) GetPlaylist(ctx context.Context, id spotify.ID, limit int) ([]Track, error) {
	page, err := c.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, page.Total)
	add := func(items []spotify.PlaylistItem) {
		for _, it := range items {
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, simple(it.Track.Track.SimpleTrack))
		}
	}
	add(page.Items)
	for page.Next != "" && (limit <= 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Items)
	}
	return out, nil
}

func (c *Client) GetArtistTop(ctx context.Context, id spotify.ID, limit int) ([]Track, error) {
	full, err := c.raw.GetArtistsTopTracks(ctx, id, topTracksMarket)
	if err != nil {
		return nil, err
	}
	out := make([]Track, 0, len(full))
	for _, t := range full {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, simple(t.SimpleTrack))
	}
	return out, nil
}

// Search looks up albums and tracks for autocomplete.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]spotify.SimpleAlbum, []spotify.FullTrack, error) {
	if limit <= 0 {
		limit = 10
	}
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeAlbum|spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, nil, err
	}
	var albums []spotify.SimpleAlbum
	if res.Albums != nil {
		albums = res.Albums.Albums
	}
	var tracks []spotify.FullTrack
	if res.Tracks != nil {
		tracks = res.Tracks.Tracks
	}
	return albums[:min(len(albums), limit)], tracks[:min(len(tracks), limit)], nil
}
