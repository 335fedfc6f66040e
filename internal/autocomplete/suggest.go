package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sonroyaalmerol/tubequeue/internal/cache"
	"github.com/sonroyaalmerol/tubequeue/internal/spotify"
	"github.com/sonroyaalmerol/tubequeue/internal/utils"
)

const (
	suggestURL   = "https://suggestqueries.google.com/complete/search"
	maxChoiceLen = 100
	cacheTTL     = 5 * time.Minute
	cacheLimit   = 512
)

// Suggester produces choices for the play command's query option.
type Suggester struct {
	http    *http.Client
	spotify *spotify.Client // nil when Spotify is not configured
	baseURL string
	cache   *cache.TTL[[]string]
}

func NewSuggester(sp *spotify.Client) *Suggester {
	return &Suggester{
		http:    &http.Client{Timeout: 2 * time.Second},
		spotify: sp,
		baseURL: suggestURL,
		cache:   cache.NewTTL[[]string](cacheTTL, cacheLimit),
	}
}

// YouTube returns search-box completions for query.
func (s *Suggester) YouTube(ctx context.Context, query string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	u, err := url.Parse(s.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest: unexpected status %d", resp.StatusCode)
	}

	var parsed []any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	arr, ok := parsed[1].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	s.cache.Set(key, out)
	return out, nil
}

func choice(name, value string) *discordgo.ApplicationCommandOptionChoice {
	return &discordgo.ApplicationCommandOptionChoice{
		Name:  utils.Truncate(name, maxChoiceLen),
		Value: utils.Truncate(value, maxChoiceLen),
	}
}

// Choices merges YouTube completions with Spotify albums and tracks, at
// most limit in total.
func (s *Suggester) Choices(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 {
		limit = 10
	}
	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)

	yt, err := s.YouTube(ctx, query)
	if err != nil {
		slog.Debug("youtube suggestions failed", "query", query, "err", err)
	}
	for _, v := range yt[:min(len(yt), limit)] {
		out = append(out, choice("YouTube: "+v, v))
	}

	if s.spotify == nil {
		return out
	}
	albums, tracks, err := s.spotify.Search(ctx, query, limit/2)
	if err != nil {
		slog.Debug("spotify suggestions failed", "query", query, "err", err)
		return out
	}
	// make room
	if room := limit - len(albums) - len(tracks); len(out) > room {
		out = out[:max(room, 0)]
	}
	for _, a := range albums {
		name := "Spotify: 💿 " + a.Name
		if len(a.Artists) > 0 {
			name += " - " + a.Artists[0].Name
		}
		out = append(out, choice(name, "spotify:album:"+a.ID.String()))
	}
	for _, t := range tracks {
		name := "Spotify: 🎵 " + t.Name
		if len(t.Artists) > 0 {
			name += " - " + t.Artists[0].Name
		}
		out = append(out, choice(name, "spotify:track:"+t.ID.String()))
	}
	return out[:min(len(out), limit)]
}
