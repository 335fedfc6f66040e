// Package sponsorblock looks up community-submitted non-music segments for
// YouTube videos and trims them off the start and end of playback.
package sponsorblock

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"
)

const defaultBaseURL = "https://sponsor.ajay.app/api/skipSegments"

const categoryMusicOfftopic = "music_offtopic"

// ErrUnavailable is returned when the service answers 504.
var ErrUnavailable = errors.New("sponsorblock unavailable")

type Segment struct {
	Category string     `json:"category"`
	Segment  [2]float64 `json:"segment"` // [start, end] seconds
	UUID     string     `json:"UUID"`
	// VideoDuration is the submitter's video length in seconds, 0 if unknown.
	VideoDuration float64 `json:"videoDuration"`
}

func (s Segment) Start() time.Duration { return seconds(s.Segment[0]) }
func (s Segment) End() time.Duration   { return seconds(s.Segment[1]) }

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

type Client struct {
	http    *http.Client
	baseURL string
}

func NewClient() *Client {
	return &Client{
		http:    &http.Client{Timeout: 8 * time.Second},
		baseURL: defaultBaseURL,
	}
}

// GetSegments fetches segments of the given categories for a video. A video
// without submissions yields no segments and no error.
func (c *Client) GetSegments(ctx context.Context, videoID string, categories []string) ([]Segment, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("videoID", videoID)
	for _, cat := range categories {
		q.Add("category", cat)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	case http.StatusGatewayTimeout:
		return nil, ErrUnavailable
	default:
		return nil, fmt.Errorf("sponsorblock: unexpected status %d", resp.StatusCode)
	}

	var segs []Segment
	if err := json.NewDecoder(resp.Body).Decode(&segs); err != nil {
		return nil, fmt.Errorf("sponsorblock: decode: %w", err)
	}
	return segs, nil
}

// MergeSegments sorts segments by start and folds overlapping ones together.
func MergeSegments(segs []Segment) []Segment {
	if len(segs) == 0 {
		return segs
	}
	sorted := slices.Clone(segs)
	slices.SortFunc(sorted, func(a, b Segment) int { return cmp.Compare(a.Segment[0], b.Segment[0]) })

	out := []Segment{sorted[0]}
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.Segment[0] <= last.Segment[1] {
			last.Segment[1] = max(last.Segment[1], s.Segment[1])
			continue
		}
		out = append(out, s)
	}
	return out
}
