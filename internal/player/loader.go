package player

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

const DefaultPrefetch = 5

// LinkSource expands links of another catalog into search-backed tracks.
type LinkSource interface {
	Match(ref string) bool
	Tracks(ctx context.Context, ref string, limit int) ([]stream.Track, error)
}

type LoaderOptions struct {
	Resolver Resolver
	Links    []LinkSource
	// Limit caps playlist size; <= 0 is unbounded.
	Limit int
	// Prefetch is how many playlist entries are resolved before replying.
	Prefetch int
}

// Loader turns a user reference into tracks. Playlist links are fetched in
// two phases: a small prefetch returned right away and the remainder,
// fetched later by Continue.
type Loader struct {
	resolver Resolver
	links    []LinkSource
	limit    int
	prefetch int
}

func NewLoader(opts LoaderOptions) *Loader {
	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	if opts.Limit > 0 && prefetch > opts.Limit {
		prefetch = opts.Limit
	}
	return &Loader{
		resolver: opts.Resolver,
		links:    opts.Links,
		limit:    opts.Limit,
		prefetch: prefetch,
	}
}

// Load is the result of the first phase.
type Load struct {
	Tracks []stream.Track
	// Remainder is set when a playlist has more entries to fetch.
	Remainder *Remainder
}

// Remainder describes the background part of a playlist.
type Remainder struct {
	URL   string
	Range stream.Range
}

func (l *Loader) Load(ctx context.Context, ref string) (Load, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Load{}, fmt.Errorf("empty reference")
	}

	for _, src := range l.links {
		if src.Match(ref) {
			tracks, err := src.Tracks(ctx, ref, l.limit)
			if err != nil {
				return Load{}, err
			}
			return Load{Tracks: tracks}, nil
		}
	}

	if stream.IsLikelyURL(ref) && stream.IsPlaylistLink(ref) {
		first, err := l.resolver.ResolvePlaylist(ctx, ref, stream.Range{Start: 1, End: l.prefetch})
		if err != nil {
			return Load{}, err
		}
		if len(first) > 0 {
			if len(first) > l.prefetch {
				first = first[:l.prefetch]
			}
			out := Load{Tracks: first}
			if len(first) == l.prefetch && (l.limit <= 0 || l.limit > l.prefetch) {
				out.Remainder = &Remainder{URL: ref, Range: stream.Range{Start: l.prefetch + 1, End: l.limit}}
			}
			return out, nil
		}
		slog.Debug("playlist prefetch empty, resolving as single reference", "ref", ref)
	}

	tracks, err := l.resolver.Resolve(ctx, ref)
	if err != nil {
		return Load{}, err
	}
	if l.limit > 0 && len(tracks) > l.limit {
		tracks = tracks[:l.limit]
	}
	return Load{Tracks: tracks}, nil
}

// Continue resolves rem in the background and appends the tracks to s.
// Its outcome is reported as a session event; it never touches tracks
// that are already queued.
func (l *Loader) Continue(s *Session, rem Remainder, requester string) {
	go func() {
		tracks, err := l.resolver.ResolvePlaylist(s.ctx, rem.URL, rem.Range)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("playlist continuation failed", "guildID", s.guildID, "url", rem.URL, "err", err)
			s.emit(Event{Kind: EventPlaylistContinuationFailed, Err: err})
			return
		}
		if rem.Range.End > 0 {
			if want := rem.Range.End - rem.Range.Start + 1; len(tracks) > want {
				tracks = tracks[:want]
			}
		}
		n := s.Enqueue(tracks, requester)
		slog.Info("playlist continuation queued", "guildID", s.guildID, "count", n)
		s.emit(Event{Kind: EventPlaylistContinued, Count: n})
	}()
}
