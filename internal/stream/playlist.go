package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Range selects 1-based playlist positions. End <= 0 is unbounded.
type Range struct {
	Start int
	End   int
}

func (r Range) items() string {
	start := r.Start
	if start < 1 {
		start = 1
	}
	if r.End <= 0 {
		return fmt.Sprintf("%d:", start)
	}
	return fmt.Sprintf("%d:%d", start, r.End)
}

// ResolvePlaylist resolves positions rng of a playlist in flat mode. Output
// from a run that exited non-zero is still used when it parses.
func (r *Resolver) ResolvePlaylist(ctx context.Context, url string, rng Range) ([]Track, error) {
	q := Query{Target: strings.TrimSpace(url), Flat: true, Items: rng.items()}
	stdout, err := r.run(ctx, q)
	if err != nil {
		var ee *ExtractionError
		if !errors.As(err, &ee) || len(bytes.TrimSpace(stdout)) == 0 {
			return nil, err
		}
		root, perr := parseEntry(stdout)
		if perr != nil {
			return nil, err
		}
		tracks := root.Tracks()
		slog.Warn("partial playlist result accepted", "url", url, "items", q.Items, "tracks", len(tracks), "code", ee.Code)
		return tracks, nil
	}
	root, err := parseEntry(stdout)
	if err != nil {
		return nil, err
	}
	return root.Tracks(), nil
}
