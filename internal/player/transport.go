package player

import (
	"context"
	"errors"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/stream"
)

// ConnectTimeout bounds how long a voice connection may take to get ready.
const ConnectTimeout = 30 * time.Second

var ErrConnectTimeout = errors.New("voice connection did not become ready in time")

// Transport is a live voice binding that accepts Opus frames.
type Transport interface {
	ChannelID() string
	SendOpus(ctx context.Context, frame []byte) error
	Speaking(on bool) error
	Close() error
}

// Connector establishes voice bindings. Join must return only once the
// binding is ready to accept audio, or ctx is done.
type Connector interface {
	Join(ctx context.Context, guildID, channelID string) (Transport, error)
}

// Process is the subprocess feeding an active source.
type Process interface {
	Kill() error
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// ExitError is non-nil only when the process exited with a failure on
	// its own. It is nil while running and after Kill.
	ExitError() error
}

// Provisioner opens a playable source for a track URL.
type Provisioner interface {
	Open(ctx context.Context, url string, volume float64) (stream.Source, Process, error)
}

type streamProvisioner struct {
	p *stream.Provisioner
}

// StreamProvisioner adapts a stream.Provisioner.
func StreamProvisioner(p *stream.Provisioner) Provisioner {
	return streamProvisioner{p: p}
}

func (s streamProvisioner) Open(ctx context.Context, url string, volume float64) (stream.Source, Process, error) {
	src, proc, err := s.p.Open(ctx, url, volume)
	if err != nil {
		return nil, nil, err
	}
	return src, proc, nil
}

// Resolver turns user references into tracks.
type Resolver interface {
	Resolve(ctx context.Context, ref string) ([]stream.Track, error)
	ResolvePlaylist(ctx context.Context, url string, rng stream.Range) ([]stream.Track, error)
}
