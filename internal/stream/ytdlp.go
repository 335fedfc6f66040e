package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	ytdlp "github.com/lrstanley/go-ytdlp"
	"github.com/sonroyaalmerol/tubequeue/internal/cache"
)

const (
	stderrTail       = 2000
	metadataStderr   = 64 * 1024
	searchCacheTTL   = 10 * time.Minute
	searchCacheLimit = 512
)

// Options are the yt-dlp flags shared by resolution and streaming.
type Options struct {
	Cookies string
	Proxy   string
}

// Query is one metadata run. Items is a --playlist-items expression and
// only applies to flat runs.
type Query struct {
	Target string
	Flat   bool
	Items  string
}

// Command builds the process for a metadata run.
type Command func(ctx context.Context, q Query) *exec.Cmd

var installOnce sync.Once

// Install downloads a managed yt-dlp binary once per process.
func Install(ctx context.Context) {
	installOnce.Do(func() {
		if _, err := ytdlp.Install(ctx, nil); err != nil {
			slog.Warn("yt-dlp install failed, relying on PATH", "err", err)
		}
	})
}

func baseCommand(opts Options) *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings().IgnoreConfig()
	if opts.Cookies != "" {
		cmd = cmd.Cookies(opts.Cookies)
	}
	if opts.Proxy != "" {
		cmd = cmd.Proxy(opts.Proxy)
	}
	return cmd
}

// YtDlpCommand is the production metadata Command.
func YtDlpCommand(opts Options) Command {
	return func(ctx context.Context, q Query) *exec.Cmd {
		cmd := baseCommand(opts)
		if q.Flat {
			cmd = cmd.FlatPlaylist()
			if q.Items != "" {
				cmd = cmd.PlaylistItems(q.Items)
			}
		}
		return cmd.BuildCommand(ctx, "--dump-single-json", q.Target)
	}
}

// Resolver turns user references into tracks through yt-dlp metadata runs.
type Resolver struct {
	command Command
	search  *cache.TTL[[]Track]
}

func NewResolver(opts Options) *Resolver {
	return &Resolver{
		command: YtDlpCommand(opts),
		search:  cache.NewTTL[[]Track](searchCacheTTL, searchCacheLimit),
	}
}

// Resolve handles a link or free-text search. When the result has no
// playable track but points at a playlist, that playlist is resolved
// instead. A non-zero exit is a failure even if stdout has content.
func (r *Resolver) Resolve(ctx context.Context, ref string) ([]Track, error) {
	target := SearchTarget(ref)
	isSearch := target != strings.TrimSpace(ref)
	if isSearch && r.search != nil {
		if tracks, ok := r.search.Get(target); ok {
			slog.Debug("resolve cache hit", "target", target)
			return tracks, nil
		}
	}

	root, err := r.fetch(ctx, Query{Target: target})
	if err != nil {
		return nil, err
	}
	tracks := root.Tracks()
	if len(tracks) == 0 {
		if pl := root.PlaylistURL(); pl != "" {
			slog.Debug("resolve: following playlist link", "url", pl)
			root, err = r.fetch(ctx, Query{Target: pl})
			if err != nil {
				return nil, err
			}
			tracks = root.Tracks()
		}
	}

	if isSearch && r.search != nil && len(tracks) > 0 {
		r.search.Set(target, tracks)
	}
	return tracks, nil
}

func (r *Resolver) fetch(ctx context.Context, q Query) (*Entry, error) {
	stdout, err := r.run(ctx, q)
	if err != nil {
		return nil, err
	}
	return parseEntry(stdout)
}

// run executes one metadata process. On a non-zero exit the captured stdout
// is returned together with an *ExtractionError.
func (r *Resolver) run(ctx context.Context, q Query) ([]byte, error) {
	cmd := r.command(ctx, q)
	var stdout bytes.Buffer
	stderr := newTailBuffer(metadataStderr)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Err: err}
	}
	err := cmd.Wait()
	slog.Debug("yt-dlp metadata run", "target", q.Target, "flat", q.Flat, "items", q.Items, "took", time.Since(start), "err", err)
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), &ExtractionError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return nil, fmt.Errorf("yt-dlp run: %w", err)
}

func parseEntry(b []byte) (*Entry, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, &ParseError{Err: errors.New("empty output")}
	}
	var root Entry
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &root, nil
}
